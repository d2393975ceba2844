package dynamic

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTelemetry replays a fixed sequence of snapshots, repeating the last one.
type fakeTelemetry struct {
	mu    sync.Mutex
	snaps []Snapshot
	i     int
}

func (f *fakeTelemetry) Sample(int) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snaps) == 0 {
		return Snapshot{}, nil
	}
	s := f.snaps[f.i]
	if f.i < len(f.snaps)-1 {
		f.i++
	}
	return s, nil
}

func testRunner(t *testing.T, telemetry TelemetrySource) runner {
	t.Helper()
	return runner{
		cfg:       config.DynamicConfig{},
		telemetry: telemetry,
		logger:    zaptest.NewLogger(t),
	}
}

func TestSamplerEmitsOnlyChanges(t *testing.T) {
	src := &fakeTelemetry{snaps: []Snapshot{
		{OpenFiles: []string{"/etc/passwd"}, ResidentMemory: 1 << 20},
		{OpenFiles: []string{"/etc/passwd"}, Connections: []string{"10.0.0.1:443"}, ResidentMemory: 1 << 20},
		{OpenFiles: []string{"/etc/passwd"}, Connections: []string{"10.0.0.1:443"}, Children: []int{4242}, ResidentMemory: 64 << 20},
	}}
	s := newSampler(src, time.Millisecond)

	var got []schemas.ExecutionObservation
	for i := 0; i < 4; i++ {
		snap, err := src.Sample(1)
		require.NoError(t, err)
		s.diff(snap, func(o schemas.ExecutionObservation) { got = append(got, o) })
	}

	kinds := map[schemas.ObservationKind]int{}
	for _, o := range got {
		kinds[o.Kind]++
	}
	assert.Equal(t, 1, kinds[schemas.ObsFile], "repeated file must be reported once")
	assert.Equal(t, 1, kinds[schemas.ObsNetwork])
	assert.Equal(t, 1, kinds[schemas.ObsProcess])
	assert.Equal(t, 1, kinds[schemas.ObsMemory], "memory reported only past the growth step")
}

func TestSupervisorKillsOnBudgetExpiry(t *testing.T) {
	r := testRunner(t, &fakeTelemetry{snaps: []Snapshot{
		{OpenFiles: []string{"/tmp/loot"}},
	}})
	log := newRunLog("")
	obs := &observations{}
	cmd := exec.Command("/bin/sleep", "30")

	start := time.Now()
	exitCode, termination := r.supervise(context.Background(), cmd, Budget{
		Wall:           150 * time.Millisecond,
		SampleInterval: 10 * time.Millisecond,
	}, log, obs)

	assert.Equal(t, schemas.TermTimedOut, termination)
	assert.Equal(t, -1, exitCode)
	assert.Less(t, time.Since(start), 5*time.Second, "kill must not wait out the child")
	assert.NotEmpty(t, obs.snapshot(), "observations before expiry are retained")
}

func TestSupervisorReportsCompletion(t *testing.T) {
	r := testRunner(t, &fakeTelemetry{})
	log := newRunLog("")
	cmd := exec.Command("/bin/sh", "-c", "exit 0")

	exitCode, termination := r.supervise(context.Background(), cmd, Budget{
		Wall:           5 * time.Second,
		SampleInterval: 10 * time.Millisecond,
	}, log, &observations{})

	assert.Equal(t, schemas.TermCompleted, termination)
	assert.Equal(t, 0, exitCode)
}

func TestSupervisorReportsCrash(t *testing.T) {
	r := testRunner(t, &fakeTelemetry{})
	log := newRunLog("")
	cmd := exec.Command("/bin/sh", "-c", "exit 3")

	exitCode, termination := r.supervise(context.Background(), cmd, Budget{
		Wall:           5 * time.Second,
		SampleInterval: 10 * time.Millisecond,
	}, log, &observations{})

	assert.Equal(t, schemas.TermCrashed, termination)
	assert.Equal(t, 3, exitCode)
}

func TestHookParserTurnsLinesIntoObservations(t *testing.T) {
	obs := &observations{}
	p := &hookParser{obs: obs, log: newRunLog("")}

	// Hook lines may arrive split across writes.
	_, err := p.Write([]byte("ARGUS_OBS|syscall|command=id|fu"))
	require.NoError(t, err)
	_, err = p.Write([]byte("nc=os.system\nhello from target\nARGUS_OBS|network|remote=('10.0.0.1', 4444)"))
	require.NoError(t, err)
	p.flush()

	got := obs.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, schemas.ObsSyscall, got[0].Kind)
	assert.Equal(t, "os.system", got[0].Payload["func"])
	assert.Equal(t, "id", got[0].Payload["command"])
	assert.Equal(t, schemas.ObsNetwork, got[1].Kind)
}

func TestSnapshotOrdersObservationsByTimestamp(t *testing.T) {
	// The hook parser and the sampler stamp events before taking the
	// collector lock, so append order can invert timestamps under load.
	base := time.Now().UTC()
	obs := &observations{}
	obs.add(schemas.ExecutionObservation{Timestamp: base.Add(20 * time.Millisecond), Kind: schemas.ObsFile})
	obs.add(schemas.ExecutionObservation{Timestamp: base, Kind: schemas.ObsSyscall})
	obs.add(schemas.ExecutionObservation{Timestamp: base.Add(10 * time.Millisecond), Kind: schemas.ObsNetwork})

	got := obs.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, schemas.ObsSyscall, got[0].Kind)
	assert.Equal(t, schemas.ObsNetwork, got[1].Kind)
	assert.Equal(t, schemas.ObsFile, got[2].Kind)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
	}
}

func TestBuildFailureIsTerminalSetupFailure(t *testing.T) {
	s := &BuildRunner{runner: runner{
		cfg:       config.DynamicConfig{GoBin: "/nonexistent/toolchain"},
		telemetry: &fakeTelemetry{},
		logger:    zaptest.NewLogger(t),
	}}

	result, err := s.Execute(context.Background(), Target{
		Path:     "main.go",
		Language: schemas.LangGo,
		RunDir:   t.TempDir(),
	}, Budget{Wall: time.Second, SampleInterval: 10 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, schemas.TermSetupFailed, result.Termination)
	assert.Empty(t, result.Observations)
	assert.NotEmpty(t, result.Log)
}

func TestOrchestratorRejectsUnsupportedLanguage(t *testing.T) {
	o := NewOrchestrator(config.DynamicConfig{MaxConcurrent: 1, Budget: time.Second, SampleInterval: 10 * time.Millisecond},
		&fakeTelemetry{}, zaptest.NewLogger(t))

	_, err := o.Run(context.Background(), "notes.txt", schemas.LangUnknown)
	require.ErrorIs(t, err, ErrUnsupportedTarget)
}

func TestDecodeHexAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", decodeHexAddr("0100007F:1F90"))
	assert.Equal(t, "", decodeHexAddr("00000000:0000"))
	assert.Equal(t, "", decodeHexAddr("garbage"))
}
