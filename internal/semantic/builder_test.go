package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/obsidiansec/argus/api/schemas"
)

const pythonFixture = `import os
import sys

def helper(cmd):
    os.system(cmd)

user = sys.argv[1]
if user == "admin":
    helper(user)
else:
    print("denied")
`

const goFixture = `package main

import (
	"os"
	"os/exec"
)

func runIt(cmd string) {
	exec.Command("sh", "-c", cmd).Run()
}

func main() {
	arg := os.Args[1]
	for i := 0; i < 3; i++ {
		runIt(arg)
	}
}
`

const javaFixture = `import java.util.Scanner;

public class Main {
    static void launch(String cmd) throws Exception {
        Runtime.getRuntime().exec(cmd);
    }

    public static void main(String[] args) throws Exception {
        String input = args[0];
        if (input.length() > 0) {
            launch(input);
        }
    }
}
`

func buildFixture(t *testing.T, src string, lang schemas.Language) *SemanticModel {
	t.Helper()
	b := NewBuilder(zaptest.NewLogger(t))
	model, err := b.Build(context.Background(), "fixture", []byte(src), lang)
	require.NoError(t, err)
	t.Cleanup(model.Close)
	return model
}

func TestBuild_PythonSymbolsAndCFG(t *testing.T) {
	model := buildFixture(t, pythonFixture, schemas.LangPython)

	require.Contains(t, model.Symbols, "helper")
	assert.Equal(t, SymFunction, model.Symbols["helper"][0].Kind)
	require.Contains(t, model.Symbols, "user")
	require.Contains(t, model.Symbols, "cmd")
	assert.Equal(t, SymParameter, model.Symbols["cmd"][0].Kind)
	assert.Equal(t, "helper", model.Symbols["cmd"][0].Scope)

	require.Contains(t, model.Graph.Funcs, "helper")
	assert.Equal(t, []string{"cmd"}, model.Graph.Funcs["helper"].Params)
}

func TestBuild_BothBranchArmsReachable(t *testing.T) {
	model := buildFixture(t, pythonFixture, schemas.LangPython)

	var branch *Block
	for i := range model.Graph.Blocks {
		if model.Graph.Blocks[i].Kind == BlockBranch && model.Graph.Blocks[i].Func == "" {
			branch = &model.Graph.Blocks[i]
			break
		}
	}
	require.NotNil(t, branch, "file-scope conditional must produce a branch block")
	// Then-arm and else-arm both hang off the branch: no dead-code pruning.
	assert.GreaterOrEqual(t, len(branch.Succs), 2)
}

func TestBuild_LoopBackEdge(t *testing.T) {
	model := buildFixture(t, goFixture, schemas.LangGo)

	var head *Block
	for i := range model.Graph.Blocks {
		if model.Graph.Blocks[i].Kind == BlockLoopHead {
			head = &model.Graph.Blocks[i]
			break
		}
	}
	require.NotNil(t, head)

	backEdge := false
	for _, blk := range model.Graph.Blocks {
		if blk.Index == head.Index {
			continue
		}
		for _, s := range blk.Succs {
			if s == head.Index && blk.Index > head.Index {
				backEdge = true
			}
		}
	}
	assert.True(t, backEdge, "loop body must link back to the loop head")
}

func TestBuild_CallEdgeResolution(t *testing.T) {
	for _, tc := range []struct {
		name   string
		src    string
		lang   schemas.Language
		callee string
	}{
		{"python", pythonFixture, schemas.LangPython, "helper"},
		{"go", goFixture, schemas.LangGo, "runIt"},
		{"java", javaFixture, schemas.LangJava, "launch"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			model := buildFixture(t, tc.src, tc.lang)
			info, ok := model.Graph.Funcs[tc.callee]
			require.True(t, ok, "callee %s must be declared", tc.callee)

			resolved := false
			for _, blk := range model.Graph.Blocks {
				for _, stmt := range blk.Stmts {
					for _, call := range stmt.Calls {
						if call.Resolved == tc.callee {
							resolved = true
							assert.Contains(t, blk.Calls, info.Entry)
						}
					}
				}
			}
			assert.True(t, resolved, "direct call to %s must resolve", tc.callee)
		})
	}
}

func TestBuild_AssignmentExtraction(t *testing.T) {
	model := buildFixture(t, goFixture, schemas.LangGo)

	found := false
	for _, blk := range model.Graph.Blocks {
		for _, stmt := range blk.Stmts {
			for _, a := range stmt.Assigns {
				if len(a.Targets) == 1 && a.Targets[0] == "arg" {
					found = true
					assert.Contains(t, a.Value.Text, "os.Args")
				}
			}
		}
	}
	assert.True(t, found, "short var declaration must be extracted as assignment")
}

func TestBuild_ParseFailure(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	_, err := b.Build(context.Background(), "broken.go", []byte(")))((( not go at all"), schemas.LangGo)
	require.Error(t, err)
	var pf *ParseFailure
	assert.True(t, errors.As(err, &pf))
}

func TestBuild_UnsupportedLanguage(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	_, err := b.Build(context.Background(), "x.rb", []byte("puts 1"), schemas.LangUnknown)
	var pf *ParseFailure
	require.True(t, errors.As(err, &pf))
}
