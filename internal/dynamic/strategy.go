package dynamic

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/config"
)

// Target is one file scheduled for dynamic execution.
type Target struct {
	Path     string
	Language schemas.Language
	RunDir   string // per-run scratch directory, owned by the orchestrator
}

// Budget bounds one run. The wall-clock budget is the only thing that cancels
// a running target; expiry kills the whole process group and keeps the
// observations collected so far.
type Budget struct {
	Wall           time.Duration
	SampleInterval time.Duration
}

// Strategy executes one target. Implementations exist per language family:
// instrumented interpreter run, build-and-run, compile-and-run.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, target Target, budget Budget) (*schemas.DynamicRunResult, error)
}

// Run lifecycle states, recorded in the execution log.
type runState string

const (
	statePending     runState = "pending"
	stateBuilding    runState = "building"
	stateRunning     runState = "running"
	stateCompleted   runState = "completed"
	stateTimedOut    runState = "timed-out"
	stateCrashed     runState = "crashed"
	stateSetupFailed runState = "setup-failed"
)

// runLog is the append-only narrative of one run. Lines are mirrored to a log
// file when one is attached.
type runLog struct {
	mu    sync.Mutex
	lines []string
	file  *os.File
}

func newRunLog(path string) *runLog {
	l := &runLog{}
	if path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			l.file = f
		}
	}
	return l
}

func (l *runLog) printf(format string, args ...any) {
	line := time.Now().UTC().Format(time.RFC3339Nano) + " " + fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
}

func (l *runLog) state(s runState) { l.printf("state=%s", s) }

func (l *runLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

func (l *runLog) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

// observations is a concurrency-safe append-only collector shared between the
// process waiter and the telemetry sampler.
type observations struct {
	mu  sync.Mutex
	all []schemas.ExecutionObservation
}

func (o *observations) add(obs schemas.ExecutionObservation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, obs)
}

func (o *observations) snapshot() []schemas.ExecutionObservation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]schemas.ExecutionObservation, len(o.all))
	copy(out, o.all)
	// The hook parser and the sampler stamp observations before taking the
	// collector lock, so raw append order can invert timestamps. The result
	// must be non-decreasing in time.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// runner carries the shared configuration and telemetry source of every
// strategy.
type runner struct {
	cfg       config.DynamicConfig
	telemetry TelemetrySource
	logger    *zap.Logger
}

// supervise starts the prepared command in its own process group, samples
// telemetry while it runs, and enforces the wall-clock budget. On expiry the
// whole group is killed so spawned children cannot outlive the run.
func (r *runner) supervise(ctx context.Context, cmd *exec.Cmd, budget Budget, log *runLog, obs *observations) (int, schemas.TerminationReason) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		log.printf("start failed: %v", err)
		log.state(stateSetupFailed)
		return -1, schemas.TermSetupFailed
	}
	pid := cmd.Process.Pid
	log.state(stateRunning)
	log.printf("pid=%d", pid)

	sampleCtx, stopSampling := context.WithCancel(context.Background())
	var sampled sync.WaitGroup
	sampled.Add(1)
	go func() {
		defer sampled.Done()
		newSampler(r.telemetry, budget.SampleInterval).run(sampleCtx, pid, obs.add)
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(budget.Wall)
	defer timer.Stop()

	var termination schemas.TerminationReason
	var exitCode int
	select {
	case err := <-waitCh:
		exitCode = cmd.ProcessState.ExitCode()
		if err != nil && exitCode != 0 {
			log.printf("exited abnormally: %v", err)
			termination = schemas.TermCrashed
		} else {
			termination = schemas.TermCompleted
		}
	case <-timer.C:
		log.printf("budget %s expired, killing process group %d", budget.Wall, pid)
		killGroup(pid)
		<-waitCh
		exitCode = -1
		termination = schemas.TermTimedOut
	case <-ctx.Done():
		log.printf("run cancelled: %v", ctx.Err())
		killGroup(pid)
		<-waitCh
		exitCode = -1
		termination = schemas.TermTimedOut
	}

	stopSampling()
	sampled.Wait()

	switch termination {
	case schemas.TermCompleted:
		log.state(stateCompleted)
	case schemas.TermTimedOut:
		log.state(stateTimedOut)
	case schemas.TermCrashed:
		log.state(stateCrashed)
	}
	return exitCode, termination
}

// killGroup kills the whole process group rooted at pid.
func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// scrubEnv builds the restricted environment for isolated runs: a minimal
// PATH, HOME pointing into the scratch directory, and nothing inherited.
func scrubEnv(runDir string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + runDir,
		"TMPDIR=" + runDir,
		"LANG=C.UTF-8",
	}
}
