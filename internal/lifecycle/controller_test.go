package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"burrow/internal/events"
	"burrow/internal/registry"
	"burrow/internal/runtime"
)

type fakeRuntime struct {
	state    runtime.RunState
	stateErr error
	startErr error

	startCalls    int
	forcefulCalls int
	destroyCalls  int
	clearCalls    int
	waitStates    []runtime.RunState

	// netReadyAt is the probe number at which the network marker
	// appears; 0 means never.
	netReadyAt int
	netProbes  int

	// procDrainAt is the process-list query number at which the guest
	// processes are gone; 0 means never.
	procDrainAt int
	procQueries int
	procErr     error

	onDestroy func()
}

var _ Runtime = (*fakeRuntime)(nil)

func (f *fakeRuntime) Start(context.Context, string) error {
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = runtime.StateRunning
	return nil
}

func (f *fakeRuntime) StopForceful(context.Context, string) error {
	f.forcefulCalls++
	f.state = runtime.StateStopped
	return nil
}

func (f *fakeRuntime) Destroy(context.Context, string) error {
	f.destroyCalls++
	if f.onDestroy != nil {
		f.onDestroy()
	}
	return nil
}

func (f *fakeRuntime) WaitForState(_ context.Context, _ string, target runtime.RunState) error {
	f.waitStates = append(f.waitStates, target)
	return nil
}

func (f *fakeRuntime) State(context.Context, string) (runtime.RunState, error) {
	return f.state, f.stateErr
}

func (f *fakeRuntime) ListProcesses(context.Context) ([]runtime.Process, error) {
	f.procQueries++
	if f.procErr != nil {
		return nil, f.procErr
	}
	if f.procDrainAt > 0 && f.procQueries >= f.procDrainAt {
		f.state = runtime.StateStopped // voluntary guest exit
		return nil, nil
	}
	return []runtime.Process{{Container: "web", PID: "1", Command: "init"}}, nil
}

func (f *fakeRuntime) NetworkReady(context.Context, string) (bool, error) {
	f.netProbes++
	return f.netReadyAt > 0 && f.netProbes >= f.netReadyAt, nil
}

func (f *fakeRuntime) ClearNetworkReady(context.Context, string) error {
	f.clearCalls++
	return nil
}

type fakeShell struct {
	calls [][]string
	err   error
}

func (f *fakeShell) Run(_ context.Context, _ string, argv []string) error {
	f.calls = append(f.calls, argv)
	return f.err
}

type fakeValidator struct {
	valid map[string]bool
}

func (f *fakeValidator) CheckValid(_ context.Context, name string) error {
	if !f.valid[name] {
		return &registry.NotFoundError{Name: name}
	}
	return nil
}

func testConfig() Config {
	return Config{
		NetworkReadyAttempts: 3,
		NetworkReadyInterval: time.Millisecond,
		ShutdownGrace:        5 * time.Millisecond,
		ShutdownPollInterval: time.Millisecond,
		HaltCommand:          []string{"halt"},
		ResyncCommand:        []string{"puppet", "agent", "--onetime", "--no-daemonize"},
	}
}

func newTestController(gw *fakeRuntime, sh *fakeShell) (*Controller, *events.Emitter) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	emitter := events.NewEmitter(logger)
	reg := &fakeValidator{valid: map[string]bool{"web": true}}
	return NewController(gw, sh, reg, testConfig(), emitter, logger), emitter
}

func TestUnknownNameFailsWithoutSideEffects(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateStopped}
	sh := &fakeShell{}
	ctl, _ := newTestController(gw, sh)
	ctx := context.Background()

	var notFound *registry.NotFoundError
	if _, err := ctl.Start(ctx, "ghost"); !errors.As(err, &notFound) {
		t.Errorf("Start(ghost) = %v, want NotFoundError", err)
	}
	if _, err := ctl.Stop(ctx, "ghost"); !errors.As(err, &notFound) {
		t.Errorf("Stop(ghost) = %v, want NotFoundError", err)
	}
	if _, err := ctl.Restart(ctx, "ghost"); !errors.As(err, &notFound) {
		t.Errorf("Restart(ghost) = %v, want NotFoundError", err)
	}
	if err := ctl.Resync(ctx, "ghost"); !errors.As(err, &notFound) {
		t.Errorf("Resync(ghost) = %v, want NotFoundError", err)
	}
	if err := ctl.Destroy(ctx, "ghost"); !errors.As(err, &notFound) {
		t.Errorf("Destroy(ghost) = %v, want NotFoundError", err)
	}

	if gw.startCalls+gw.forcefulCalls+gw.destroyCalls+gw.clearCalls+gw.procQueries+gw.netProbes != 0 {
		t.Errorf("unknown name caused gateway side effects: %+v", gw)
	}
	if len(sh.calls) != 0 {
		t.Errorf("unknown name reached the shell: %v", sh.calls)
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateRunning}
	ctl, _ := newTestController(gw, &fakeShell{})

	_, err := ctl.Start(context.Background(), "web")
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
	if gw.startCalls != 0 {
		t.Errorf("Start was issued to the runtime anyway")
	}
}

func TestStartConfirmsNetwork(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateStopped, netReadyAt: 2}
	ctl, _ := newTestController(gw, &fakeShell{})

	status, err := ctl.Start(context.Background(), "web")
	if err != nil {
		t.Fatal(err)
	}
	if !status.NetworkConfirmed {
		t.Error("NetworkConfirmed = false, want true")
	}
	if status.WaitAttempts != 2 {
		t.Errorf("WaitAttempts = %d, want 2", status.WaitAttempts)
	}
	if gw.startCalls != 1 {
		t.Errorf("startCalls = %d, want 1", gw.startCalls)
	}
	if !reflect.DeepEqual(gw.waitStates, []runtime.RunState{runtime.StateRunning}) {
		t.Errorf("waitStates = %v", gw.waitStates)
	}
}

func TestStartSucceedsWithUnconfirmedNetwork(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateStopped} // marker never appears
	ctl, emitter := newTestController(gw, &fakeShell{})

	var seen []string
	emitter.OnEvent(func(ev events.Event) { seen = append(seen, ev.Type) })

	status, err := ctl.Start(context.Background(), "web")
	if err != nil {
		t.Fatalf("readiness timeout must not fail the start: %v", err)
	}
	if status.NetworkConfirmed {
		t.Error("NetworkConfirmed = true, want false")
	}
	if status.WaitAttempts != 3 {
		t.Errorf("WaitAttempts = %d, want 3", status.WaitAttempts)
	}

	wantEvents := []string{events.NetworkUnconfirmed, events.ContainerStarted}
	if !reflect.DeepEqual(seen, wantEvents) {
		t.Errorf("events = %v, want %v", seen, wantEvents)
	}
}

func TestStopAlreadyStopped(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateStopped}
	ctl, _ := newTestController(gw, &fakeShell{})

	_, err := ctl.Stop(context.Background(), "web")
	if !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("err = %v, want ErrAlreadyStopped", err)
	}
}

func TestStopGraceful(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateRunning, procDrainAt: 2}
	sh := &fakeShell{}
	ctl, _ := newTestController(gw, sh)

	status, err := ctl.Stop(context.Background(), "web")
	if err != nil {
		t.Fatal(err)
	}
	if status.Escalated {
		t.Error("Escalated = true, want false")
	}
	if gw.forcefulCalls != 0 {
		t.Errorf("forcefulCalls = %d, want 0", gw.forcefulCalls)
	}
	if gw.clearCalls != 1 {
		t.Errorf("clearCalls = %d, want 1 (marker must be deleted)", gw.clearCalls)
	}
	if len(sh.calls) != 1 || sh.calls[0][0] != "halt" {
		t.Errorf("shell calls = %v, want one halt", sh.calls)
	}
}

func TestStopEscalatesAfterGraceWindow(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateRunning} // processes never drain
	ctl, emitter := newTestController(gw, &fakeShell{})

	escalations := 0
	emitter.OnEvent(func(ev events.Event) {
		if ev.Type == events.StopEscalated {
			escalations++
		}
	})

	status, err := ctl.Stop(context.Background(), "web")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Escalated {
		t.Error("Escalated = false, want true")
	}
	if gw.forcefulCalls != 1 {
		t.Errorf("forcefulCalls = %d, want exactly 1", gw.forcefulCalls)
	}
	if !reflect.DeepEqual(gw.waitStates, []runtime.RunState{runtime.StateStopped}) {
		t.Errorf("waitStates = %v, want [stopped]", gw.waitStates)
	}
	if status.WaitAttempts != 5 {
		t.Errorf("WaitAttempts = %d, want 5 (grace / poll interval)", status.WaitAttempts)
	}
	if gw.clearCalls != 1 {
		t.Errorf("clearCalls = %d, want 1 (marker deleted on the forceful path too)", gw.clearCalls)
	}
	if escalations != 1 {
		t.Errorf("escalation events = %d, want 1", escalations)
	}
	if gw.state != runtime.StateStopped {
		t.Errorf("final state = %v, want stopped", gw.state)
	}
}

func TestStopInspectorFailureIsFatal(t *testing.T) {
	inspectorErr := errors.New("lxc-ps exploded")
	gw := &fakeRuntime{state: runtime.StateRunning, procErr: inspectorErr}
	ctl, _ := newTestController(gw, &fakeShell{})

	_, err := ctl.Stop(context.Background(), "web")
	if !errors.Is(err, inspectorErr) {
		t.Fatalf("err = %v, want inspector failure", err)
	}
	if gw.procQueries != 1 {
		t.Errorf("procQueries = %d, want 1 (no retry after inspector failure)", gw.procQueries)
	}
	if gw.forcefulCalls != 0 {
		t.Errorf("forcefulCalls = %d, want 0", gw.forcefulCalls)
	}
}

func TestStopSurvivesHaltFailure(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateRunning, procDrainAt: 1}
	sh := &fakeShell{err: errors.New("ssh: no route to host")}
	ctl, _ := newTestController(gw, sh)

	status, err := ctl.Stop(context.Background(), "web")
	if err != nil {
		t.Fatalf("halt failure must not abort the stop: %v", err)
	}
	if status.Escalated {
		t.Error("Escalated = true, want false (processes drained anyway)")
	}
}

func TestRestartStoppedSkipsStopPhase(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateStopped, netReadyAt: 1}
	ctl, _ := newTestController(gw, &fakeShell{})

	status, err := ctl.Restart(context.Background(), "web")
	if err != nil {
		t.Fatal(err)
	}
	if !status.StopSkipped {
		t.Error("StopSkipped = false, want true")
	}
	if gw.startCalls != 1 {
		t.Errorf("startCalls = %d, want 1", gw.startCalls)
	}
	if gw.state != runtime.StateRunning {
		t.Errorf("final state = %v, want running", gw.state)
	}
}

func TestRestartRunningStopsThenStarts(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateRunning, procDrainAt: 1, netReadyAt: 1}
	ctl, _ := newTestController(gw, &fakeShell{})

	status, err := ctl.Restart(context.Background(), "web")
	if err != nil {
		t.Fatal(err)
	}
	if status.StopSkipped {
		t.Error("StopSkipped = true, want false")
	}
	if gw.startCalls != 1 {
		t.Errorf("startCalls = %d, want 1", gw.startCalls)
	}
	if gw.state != runtime.StateRunning {
		t.Errorf("final state = %v, want running", gw.state)
	}
}

func TestResyncRunsConfiguredCommand(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateRunning}
	sh := &fakeShell{}
	ctl, _ := newTestController(gw, sh)

	if err := ctl.Resync(context.Background(), "web"); err != nil {
		t.Fatal(err)
	}
	want := testConfig().ResyncCommand
	if len(sh.calls) != 1 || !reflect.DeepEqual(sh.calls[0], want) {
		t.Errorf("shell calls = %v, want [%v]", sh.calls, want)
	}
}

func TestDestroyStopsRunningContainerFirst(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateRunning, procDrainAt: 1}
	ctl, _ := newTestController(gw, &fakeShell{})

	if err := ctl.Destroy(context.Background(), "web"); err != nil {
		t.Fatal(err)
	}
	if gw.destroyCalls != 1 {
		t.Errorf("destroyCalls = %d, want 1", gw.destroyCalls)
	}
	if gw.clearCalls != 1 {
		t.Errorf("clearCalls = %d, want 1 (stop ran first)", gw.clearCalls)
	}
}

func TestDestroyIsNotIdempotent(t *testing.T) {
	gw := &fakeRuntime{state: runtime.StateStopped}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := &fakeValidator{valid: map[string]bool{"web": true}}
	gw.onDestroy = func() { reg.valid["web"] = false }
	ctl := NewController(gw, &fakeShell{}, reg, testConfig(), events.NewEmitter(logger), logger)
	ctx := context.Background()

	if err := ctl.Destroy(ctx, "web"); err != nil {
		t.Fatal(err)
	}

	var notFound *registry.NotFoundError
	if err := ctl.Destroy(ctx, "web"); !errors.As(err, &notFound) {
		t.Fatalf("second destroy = %v, want NotFoundError", err)
	}
	if gw.destroyCalls != 1 {
		t.Errorf("destroyCalls = %d, want 1", gw.destroyCalls)
	}
}
