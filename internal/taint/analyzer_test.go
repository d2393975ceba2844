package taint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/semantic"
)

func propagate(t *testing.T, file, src string, lang schemas.Language) []schemas.Finding {
	t.Helper()
	b := semantic.NewBuilder(zaptest.NewLogger(t))
	model, err := b.Build(context.Background(), file, []byte(src), lang)
	require.NoError(t, err)
	t.Cleanup(model.Close)
	return NewAnalyzer(zaptest.NewLogger(t)).Propagate(model, ForLanguage(lang))
}

func TestDirectFlowToCommandSink(t *testing.T) {
	src := `import os
import sys

cmd = sys.argv[1]
os.system(cmd)
`
	findings := propagate(t, "app.py", src, schemas.LangPython)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, schemas.CategoryCommandExecution, f.Category)
	assert.Equal(t, 5, f.Line)
	assert.Equal(t, "taint:py-os-system", f.Detector)
	assert.InDelta(t, 0.9, f.Confidence, 1e-9)
	assert.Contains(t, f.Description, "py-argv")
}

func TestSanitizerClearsTaint(t *testing.T) {
	src := `import os
import shlex
import sys

cmd = shlex.quote(sys.argv[1])
os.system(cmd)
`
	findings := propagate(t, "app.py", src, schemas.LangPython)
	assert.Empty(t, findings)
}

func TestSanitizedSinkArgument(t *testing.T) {
	src := `import os
import shlex
import sys

os.system(shlex.quote(sys.argv[1]))
`
	findings := propagate(t, "app.py", src, schemas.LangPython)
	assert.Empty(t, findings)
}

func TestReassignmentClearsTaint(t *testing.T) {
	src := `import os
import sys

cmd = sys.argv[1]
cmd = "ls"
os.system(cmd)
`
	findings := propagate(t, "app.py", src, schemas.LangPython)
	assert.Empty(t, findings)
}

func TestDeadBranchStillAnalyzed(t *testing.T) {
	src := `import os
import sys

if False:
    os.system(sys.argv[1])
`
	findings := propagate(t, "app.py", src, schemas.LangPython)
	require.Len(t, findings, 1)
	assert.Equal(t, schemas.CategoryCommandExecution, findings[0].Category)
}

func TestInterproceduralFlow(t *testing.T) {
	src := `import os
import sys

def run(cmd):
    os.system(cmd)

run(sys.argv[1])
`
	findings := propagate(t, "app.py", src, schemas.LangPython)
	require.Len(t, findings, 1)
	assert.Equal(t, 5, findings[0].Line)
	assert.Equal(t, "taint:py-os-system", findings[0].Detector)
}

func TestLoopCarriedTaint(t *testing.T) {
	src := `import os
import sys

acc = ""
for part in sys.argv:
    acc = acc + part
os.system(acc)
`
	findings := propagate(t, "app.py", src, schemas.LangPython)
	require.Len(t, findings, 1)
	assert.Equal(t, 7, findings[0].Line)
}

func TestReflectiveSinkPenalty(t *testing.T) {
	src := `import java.lang.reflect.Method;

class App {
    public static void main(String[] args) {
        String payload = args[0];
        Method m = resolve();
        m.invoke(null, payload);
    }
}
`
	findings := propagate(t, "App.java", src, schemas.LangJava)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, schemas.CategoryCodeEval, f.Category)
	assert.True(t, f.Confidence < 0.8, "reflective sink must be penalized")
	assert.InDelta(t, 0.5, f.Confidence, 1e-9)
	assert.Contains(t, f.Description, "dynamic dispatch")
}

func TestGoFlagToExec(t *testing.T) {
	src := `package main

import (
	"os"
	"os/exec"
)

func main() {
	target := os.Args[1]
	exec.Command("sh", "-c", target)
}
`
	findings := propagate(t, "main.go", src, schemas.LangGo)
	require.Len(t, findings, 1)
	assert.Equal(t, schemas.CategoryCommandExecution, findings[0].Category)
	assert.Equal(t, "taint:go-exec", findings[0].Detector)
}

func TestFlowInsideClassMethod(t *testing.T) {
	src := `import os
import sys

class Runner:
    def run(self):
        os.system(sys.argv[1])
`
	findings := propagate(t, "runner.py", src, schemas.LangPython)
	require.Len(t, findings, 1)
	assert.Equal(t, schemas.CategoryCommandExecution, findings[0].Category)
	assert.Equal(t, 6, findings[0].Line)
	assert.Equal(t, "taint:py-os-system", findings[0].Detector)
}

func TestFlowInsideElseArm(t *testing.T) {
	src := `package main

import (
	"os"
	"os/exec"
)

func main() {
	if len(os.Args) == 1 {
		return
	} else {
		target := os.Args[1]
		exec.Command("sh", "-c", target)
	}
}
`
	findings := propagate(t, "main.go", src, schemas.LangGo)
	require.Len(t, findings, 1)
	assert.Equal(t, schemas.CategoryCommandExecution, findings[0].Category)
	assert.Equal(t, 13, findings[0].Line)
	assert.Equal(t, "taint:go-exec", findings[0].Detector)
}

func TestNoRegistryForUnknownLanguage(t *testing.T) {
	assert.Nil(t, ForLanguage(schemas.LangUnknown))
	a := NewAnalyzer(zaptest.NewLogger(t))
	assert.Nil(t, a.Propagate(nil, nil))
}

func TestDuplicatePairsCollapse(t *testing.T) {
	src := `import os
import sys

cmd = sys.argv[1]
for i in range(3):
    os.system(cmd)
`
	findings := propagate(t, "app.py", src, schemas.LangPython)
	assert.Len(t, findings, 1)
}
