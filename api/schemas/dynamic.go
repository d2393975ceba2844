package schemas

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// -- Dynamic Execution Schemas --

// ObservationKind classifies one intercepted or sampled runtime event.
type ObservationKind string

const (
	ObsSyscall ObservationKind = "syscall"
	ObsNetwork ObservationKind = "network"
	ObsFile    ObservationKind = "file"
	ObsMemory  ObservationKind = "memory"
	ObsProcess ObservationKind = "process"
)

// ExecutionObservation is one event captured during a dynamic run: a hooked
// call in the instrumented interpreter, or one changed resource noticed by
// the telemetry sampler. Observations are append-only and ordered by
// timestamp within a run.
type ExecutionObservation struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      ObservationKind   `json:"kind"`
	Payload   map[string]string `json:"payload"`
}

// Summary renders a single observation as one log-friendly line, with payload
// keys in deterministic order.
func (o ExecutionObservation) Summary() string {
	keys := make([]string, 0, len(o.Payload))
	for k := range o.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, o.Payload[k]))
	}
	return fmt.Sprintf("%s: %s", o.Kind, strings.Join(parts, " "))
}

// TerminationReason records how a dynamic run ended.
type TerminationReason string

const (
	TermCompleted   TerminationReason = "completed"
	TermTimedOut    TerminationReason = "timeout"
	TermCrashed     TerminationReason = "crashed"
	TermSetupFailed TerminationReason = "setup-failed"
)

// DynamicRunResult is the outcome of one execution attempt. A timeout is not
// an error: observations collected before the budget expired are retained.
type DynamicRunResult struct {
	RunID        string                 `json:"run_id"`
	Target       string                 `json:"target"`
	Language     Language               `json:"language"`
	ExitCode     int                    `json:"exit_code"`
	Observations []ExecutionObservation `json:"observations"`
	Log          []string               `json:"log"`
	Termination  TerminationReason      `json:"termination"`
	Duration     time.Duration          `json:"duration"`
}
