package dynamic

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/obsidiansec/argus/api/schemas"
)

// hookScript is injected as sitecustomize.py so the interpreter loads it
// before the target. Every hooked call writes one parseable line to stderr;
// the parent turns those lines into exact per-call observations.
const hookScript = `import builtins
import os
import socket
import subprocess
import sys

def _emit(kind, **kv):
    parts = ["ARGUS_OBS", kind]
    for k in sorted(kv):
        parts.append("%s=%s" % (k, str(kv[k])[:200].replace("|", "_").replace("\n", " ")))
    sys.__stderr__.write("|".join(parts) + "\n")
    sys.__stderr__.flush()

_system = os.system
def _hook_system(cmd):
    _emit("syscall", func="os.system", command=cmd)
    return _system(cmd)
os.system = _hook_system

_popen = subprocess.Popen
class _HookPopen(_popen):
    def __init__(self, args, *a, **kw):
        _emit("process", func="subprocess.Popen", command=str(args))
        super().__init__(args, *a, **kw)
subprocess.Popen = _HookPopen

_eval = builtins.eval
def _hook_eval(src, *a, **kw):
    _emit("syscall", func="eval", source=str(src))
    return _eval(src, *a, **kw)
builtins.eval = _hook_eval

_exec = builtins.exec
def _hook_exec(src, *a, **kw):
    _emit("syscall", func="exec", source=str(src))
    return _exec(src, *a, **kw)
builtins.exec = _hook_exec

_connect = socket.socket.connect
def _hook_connect(self, addr):
    _emit("network", func="socket.connect", remote=str(addr))
    return _connect(self, addr)
socket.socket.connect = _hook_connect

_open = builtins.open
def _hook_open(file, mode="r", *a, **kw):
    if any(m in str(mode) for m in ("w", "a", "x", "+")):
        _emit("file", func="open", mode=str(mode), path=str(file))
    return _open(file, mode, *a, **kw)
builtins.open = _hook_open
`

// InterpretedRunner executes Python targets under an instrumented
// interpreter. Hooked calls become exact observations; the telemetry sampler
// still runs underneath to catch what the hooks miss.
type InterpretedRunner struct {
	runner
}

func (s *InterpretedRunner) Name() string { return "instrumented-interpreter" }

func (s *InterpretedRunner) Execute(ctx context.Context, target Target, budget Budget) (*schemas.DynamicRunResult, error) {
	start := time.Now()
	log := newRunLog(filepath.Join(target.RunDir, "run.log"))
	defer log.close()
	log.state(statePending)
	log.printf("strategy=%s target=%s", s.Name(), target.Path)

	result := &schemas.DynamicRunResult{
		Target:   target.Path,
		Language: target.Language,
	}

	hookPath := filepath.Join(target.RunDir, "sitecustomize.py")
	if err := os.WriteFile(hookPath, []byte(hookScript), 0o644); err != nil {
		log.printf("hook bootstrap write failed: %v", err)
		log.state(stateSetupFailed)
		result.Termination = schemas.TermSetupFailed
		result.ExitCode = -1
		result.Log = log.snapshot()
		result.Duration = time.Since(start)
		return result, nil
	}

	abs, err := filepath.Abs(target.Path)
	if err != nil {
		abs = target.Path
	}
	cmd := exec.Command(s.cfg.PythonBin, abs)
	cmd.Dir = target.RunDir
	env := os.Environ()
	if s.cfg.Isolate {
		env = scrubEnv(target.RunDir)
	}
	cmd.Env = append(env, "PYTHONPATH="+target.RunDir)

	obs := &observations{}
	parser := &hookParser{obs: obs, log: log}
	cmd.Stderr = parser
	cmd.Stdout = parser

	exitCode, termination := s.supervise(ctx, cmd, budget, log, obs)
	parser.flush()

	result.ExitCode = exitCode
	result.Termination = termination
	result.Observations = obs.snapshot()
	result.Log = log.snapshot()
	result.Duration = time.Since(start)
	return result, nil
}

// hookParser consumes the child's output stream, converting hook lines into
// observations and keeping the rest as log context.
type hookParser struct {
	obs *observations
	log *runLog
	buf bytes.Buffer
}

func (p *hookParser) Write(b []byte) (int, error) {
	p.buf.Write(b)
	for {
		line, err := p.buf.ReadString('\n')
		if err != nil {
			// Incomplete line; put it back for the next write.
			p.buf.WriteString(line)
			break
		}
		p.handle(strings.TrimRight(line, "\n"))
	}
	return len(b), nil
}

// flush handles a trailing unterminated line after the child exits.
func (p *hookParser) flush() {
	if rest := strings.TrimSpace(p.buf.String()); rest != "" {
		p.handle(rest)
	}
	p.buf.Reset()
}

func (p *hookParser) handle(line string) {
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "ARGUS_OBS|") {
		p.log.printf("output: %s", line)
		return
	}
	parts := strings.Split(line, "|")
	if len(parts) < 2 {
		return
	}
	payload := make(map[string]string, len(parts)-2)
	for _, kv := range parts[2:] {
		if i := strings.IndexByte(kv, '='); i > 0 {
			payload[kv[:i]] = kv[i+1:]
		}
	}
	p.obs.add(schemas.ExecutionObservation{
		Timestamp: time.Now(),
		Kind:      hookKind(parts[1]),
		Payload:   payload,
	})
}

func hookKind(s string) schemas.ObservationKind {
	switch s {
	case "network":
		return schemas.ObsNetwork
	case "file":
		return schemas.ObsFile
	case "process":
		return schemas.ObsProcess
	case "memory":
		return schemas.ObsMemory
	default:
		return schemas.ObsSyscall
	}
}
