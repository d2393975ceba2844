package dynamic

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/obsidiansec/argus/api/schemas"
)

// CompileRunner compiles a Java target with javac and runs the class under
// telemetry sampling. The main class name is derived from the file name,
// which is what the language mandates for public classes.
type CompileRunner struct {
	runner
}

func (s *CompileRunner) Name() string { return "compile-and-run" }

func (s *CompileRunner) Execute(ctx context.Context, target Target, budget Budget) (*schemas.DynamicRunResult, error) {
	start := time.Now()
	log := newRunLog(filepath.Join(target.RunDir, "run.log"))
	defer log.close()
	log.state(statePending)
	log.printf("strategy=%s target=%s", s.Name(), target.Path)

	result := &schemas.DynamicRunResult{
		Target:   target.Path,
		Language: target.Language,
		ExitCode: -1,
	}

	log.state(stateBuilding)
	compileCmd := exec.CommandContext(ctx, s.cfg.JavacBin, "-d", target.RunDir, target.Path)
	if out, err := compileCmd.CombinedOutput(); err != nil {
		log.printf("compilation failed: %v: %s", err, strings.TrimSpace(string(out)))
		log.state(stateSetupFailed)
		result.Termination = schemas.TermSetupFailed
		result.Log = log.snapshot()
		result.Duration = time.Since(start)
		return result, nil
	}

	className := strings.TrimSuffix(filepath.Base(target.Path), ".java")
	cmd := exec.Command(s.cfg.JavaBin, "-cp", target.RunDir, className)
	cmd.Dir = target.RunDir
	if s.cfg.Isolate {
		cmd.Env = append(scrubEnv(target.RunDir), "JAVA_HOME="+os.Getenv("JAVA_HOME"))
	}

	obs := &observations{}
	exitCode, termination := s.supervise(ctx, cmd, budget, log, obs)

	result.ExitCode = exitCode
	result.Termination = termination
	result.Observations = obs.snapshot()
	result.Log = log.snapshot()
	result.Duration = time.Since(start)
	return result, nil
}
