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

// BuildRunner compiles a Go target with the toolchain and runs the resulting
// binary under telemetry sampling. A failed build is a terminal setup
// failure: the run ends with a log entry and zero observations.
type BuildRunner struct {
	runner
}

func (s *BuildRunner) Name() string { return "build-and-run" }

func (s *BuildRunner) Execute(ctx context.Context, target Target, budget Budget) (*schemas.DynamicRunResult, error) {
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

	bin := filepath.Join(target.RunDir, "target.bin")
	log.state(stateBuilding)
	buildCmd := exec.CommandContext(ctx, s.cfg.GoBin, "build", "-o", bin, target.Path)
	buildCmd.Env = append(os.Environ(), "GOCACHE="+filepath.Join(target.RunDir, "gocache"))
	if out, err := buildCmd.CombinedOutput(); err != nil {
		log.printf("build failed: %v: %s", err, strings.TrimSpace(string(out)))
		log.state(stateSetupFailed)
		result.Termination = schemas.TermSetupFailed
		result.Log = log.snapshot()
		result.Duration = time.Since(start)
		return result, nil
	}

	cmd := exec.Command(bin)
	cmd.Dir = target.RunDir
	if s.cfg.Isolate {
		cmd.Env = scrubEnv(target.RunDir)
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
