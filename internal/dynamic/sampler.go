package dynamic

import (
	"context"
	"strconv"
	"time"

	"github.com/obsidiansec/argus/api/schemas"
)

// memoryGrowthStep is how much the resident set must grow past its previous
// peak before another memory observation is emitted.
const memoryGrowthStep = 10 << 20 // 10 MiB

// sampler polls a TelemetrySource at a fixed interval and emits an
// observation for every resource it has not seen before. Sampling stops when
// the context is cancelled or the process disappears.
type sampler struct {
	source   TelemetrySource
	interval time.Duration

	seenFiles    map[string]bool
	seenConns    map[string]bool
	seenChildren map[int]bool
	peakMemory   int64
}

func newSampler(source TelemetrySource, interval time.Duration) *sampler {
	return &sampler{
		source:       source,
		interval:     interval,
		seenFiles:    map[string]bool{},
		seenConns:    map[string]bool{},
		seenChildren: map[int]bool{},
	}
}

func (s *sampler) run(ctx context.Context, pid int, emit func(schemas.ExecutionObservation)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.source.Sample(pid)
			if err != nil {
				// Process exited between samples.
				return
			}
			s.diff(snap, emit)
		}
	}
}

// diff emits observations only for resources that changed since the last
// sample.
func (s *sampler) diff(snap Snapshot, emit func(schemas.ExecutionObservation)) {
	now := time.Now()
	for _, f := range snap.OpenFiles {
		if s.seenFiles[f] {
			continue
		}
		s.seenFiles[f] = true
		emit(schemas.ExecutionObservation{
			Timestamp: now,
			Kind:      schemas.ObsFile,
			Payload:   map[string]string{"path": f},
		})
	}
	for _, c := range snap.Connections {
		if s.seenConns[c] {
			continue
		}
		s.seenConns[c] = true
		emit(schemas.ExecutionObservation{
			Timestamp: now,
			Kind:      schemas.ObsNetwork,
			Payload:   map[string]string{"remote": c},
		})
	}
	for _, child := range snap.Children {
		if s.seenChildren[child] {
			continue
		}
		s.seenChildren[child] = true
		emit(schemas.ExecutionObservation{
			Timestamp: now,
			Kind:      schemas.ObsProcess,
			Payload:   map[string]string{"child_pid": strconv.Itoa(child)},
		})
	}
	if snap.ResidentMemory > s.peakMemory+memoryGrowthStep {
		s.peakMemory = snap.ResidentMemory
		emit(schemas.ExecutionObservation{
			Timestamp: now,
			Kind:      schemas.ObsMemory,
			Payload:   map[string]string{"resident_bytes": strconv.FormatInt(snap.ResidentMemory, 10)},
		})
	}
}
