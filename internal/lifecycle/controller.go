package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"burrow/internal/events"
	"burrow/internal/runtime"
	"burrow/internal/wait"
)

// Runtime is the subset of the runtime gateway the controller drives.
type Runtime interface {
	Start(ctx context.Context, name string) error
	StopForceful(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
	WaitForState(ctx context.Context, name string, target runtime.RunState) error
	State(ctx context.Context, name string) (runtime.RunState, error)
	ListProcesses(ctx context.Context) ([]runtime.Process, error)
	NetworkReady(ctx context.Context, name string) (bool, error)
	ClearNetworkReady(ctx context.Context, name string) error
}

// Shell runs a command inside a running container.
type Shell interface {
	Run(ctx context.Context, name string, argv []string) error
}

// Validator checks that a name refers to an existing container.
type Validator interface {
	CheckValid(ctx context.Context, name string) error
}

// Config carries the controller's timeouts and guest commands.
type Config struct {
	NetworkReadyAttempts int
	NetworkReadyInterval time.Duration
	ShutdownGrace        time.Duration
	ShutdownPollInterval time.Duration
	HaltCommand          []string
	ResyncCommand        []string
}

// DefaultConfig returns the stock timeouts: 10s of network readiness
// polling and a 20s grace window before a stop is escalated.
func DefaultConfig() Config {
	return Config{
		NetworkReadyAttempts: 100,
		NetworkReadyInterval: 100 * time.Millisecond,
		ShutdownGrace:        20 * time.Second,
		ShutdownPollInterval: 100 * time.Millisecond,
		HaltCommand:          []string{"halt"},
		ResyncCommand:        []string{"puppet", "agent", "--onetime", "--no-daemonize"},
	}
}

// Controller is the per-container lifecycle state machine over
// {stopped, running}. It never caches run state; every operation
// queries the runtime on demand.
type Controller struct {
	gw      Runtime
	shell   Shell
	reg     Validator
	cfg     Config
	emitter *events.Emitter
	logger  *slog.Logger
}

func NewController(gw Runtime, shell Shell, reg Validator, cfg Config, emitter *events.Emitter, logger *slog.Logger) *Controller {
	return &Controller{
		gw:      gw,
		shell:   shell,
		reg:     reg,
		cfg:     cfg,
		emitter: emitter,
		logger:  logger.With("component", "lifecycle"),
	}
}

// StartStatus reports a successful start. NetworkConfirmed is false
// when the container is running but never signalled network
// readiness within the polling window.
type StartStatus struct {
	NetworkConfirmed bool
	WaitAttempts     int
}

// StopStatus reports a successful stop. Escalated is true when the
// guest outlived the grace window and the runtime's forceful stop
// was used.
type StopStatus struct {
	Escalated    bool
	WaitAttempts int
}

// RestartStatus reports a completed restart.
type RestartStatus struct {
	StopSkipped bool
	Start       StartStatus
}

// State returns the container's current run state.
func (c *Controller) State(ctx context.Context, name string) (runtime.RunState, error) {
	if err := c.reg.CheckValid(ctx, name); err != nil {
		return runtime.StateUnknown, err
	}
	return c.gw.State(ctx, name)
}

// Start brings a stopped container to running and waits for it to
// signal network readiness. An unconfirmed network is a warning, not
// a failure: the container is running either way.
func (c *Controller) Start(ctx context.Context, name string) (StartStatus, error) {
	if err := c.reg.CheckValid(ctx, name); err != nil {
		return StartStatus{}, err
	}
	state, err := c.gw.State(ctx, name)
	if err != nil {
		return StartStatus{}, err
	}
	if state == runtime.StateRunning {
		return StartStatus{}, alreadyRunning(name)
	}

	c.logger.Info("starting container", "container", name)
	if err := c.gw.Start(ctx, name); err != nil {
		return StartStatus{}, err
	}
	if err := c.gw.WaitForState(ctx, name, runtime.StateRunning); err != nil {
		return StartStatus{}, err
	}

	poller := wait.Poller{Attempts: c.cfg.NetworkReadyAttempts, Interval: c.cfg.NetworkReadyInterval}
	ok, attempts, err := poller.Until(ctx, func(ctx context.Context) (bool, error) {
		return c.gw.NetworkReady(ctx, name)
	})
	if err != nil {
		return StartStatus{}, fmt.Errorf("wait for network on %q: %w", name, err)
	}
	if !ok {
		c.logger.Warn("could not confirm started: network not ready", "container", name, "attempts", attempts)
		c.emitter.Emit(events.Event{Type: events.NetworkUnconfirmed, Container: name,
			Fields: map[string]string{"attempts": strconv.Itoa(attempts)}})
	}

	c.emitter.Emit(events.Event{Type: events.ContainerStarted, Container: name,
		Fields: map[string]string{"network_confirmed": strconv.FormatBool(ok)}})
	return StartStatus{NetworkConfirmed: ok, WaitAttempts: attempts}, nil
}

// Stop shuts a running container down: graceful halt inside the
// guest, then a bounded wait for its processes to drain, escalating
// to the runtime's forceful stop only after the grace window. The
// network readiness marker is cleared up front so a later start
// cannot observe stale data.
func (c *Controller) Stop(ctx context.Context, name string) (StopStatus, error) {
	if err := c.reg.CheckValid(ctx, name); err != nil {
		return StopStatus{}, err
	}
	state, err := c.gw.State(ctx, name)
	if err != nil {
		return StopStatus{}, err
	}
	if state == runtime.StateStopped {
		return StopStatus{}, alreadyStopped(name)
	}

	c.logger.Info("stopping container", "container", name)
	if err := c.shell.Run(ctx, name, c.cfg.HaltCommand); err != nil {
		// An unresponsive or unreachable guest is what the escalation
		// path is for.
		c.logger.Warn("graceful halt failed", "container", name, "error", err)
	}
	if err := c.gw.ClearNetworkReady(ctx, name); err != nil {
		c.logger.Warn("failed to clear network marker", "container", name, "error", err)
	}

	poller := wait.Poller{
		Attempts: int(c.cfg.ShutdownGrace / c.cfg.ShutdownPollInterval),
		Interval: c.cfg.ShutdownPollInterval,
	}
	gone, attempts, err := poller.Until(ctx, func(ctx context.Context) (bool, error) {
		procs, err := c.gw.ListProcesses(ctx)
		if err != nil {
			// A malfunctioning inspector is unrecoverable, unlike
			// processes that are merely still running.
			return false, err
		}
		return countProcesses(procs, name) == 0, nil
	})
	if err != nil {
		return StopStatus{}, fmt.Errorf("wait for processes on %q: %w", name, err)
	}

	escalated := false
	if !gone {
		c.logger.Warn("guest processes outlived grace window, forcing stop",
			"container", name, "grace", c.cfg.ShutdownGrace)
		c.emitter.Emit(events.Event{Type: events.StopEscalated, Container: name})
		if err := c.gw.StopForceful(ctx, name); err != nil {
			return StopStatus{}, err
		}
		if err := c.gw.WaitForState(ctx, name, runtime.StateStopped); err != nil {
			return StopStatus{}, err
		}
		escalated = true
	}

	c.emitter.Emit(events.Event{Type: events.ContainerStopped, Container: name,
		Fields: map[string]string{"escalated": strconv.FormatBool(escalated)}})
	return StopStatus{Escalated: escalated, WaitAttempts: attempts}, nil
}

// Restart brings a container to running regardless of its prior
// state. A stopped container skips the stop phase; that is reported,
// not an error.
func (c *Controller) Restart(ctx context.Context, name string) (RestartStatus, error) {
	if err := c.reg.CheckValid(ctx, name); err != nil {
		return RestartStatus{}, err
	}
	state, err := c.gw.State(ctx, name)
	if err != nil {
		return RestartStatus{}, err
	}

	status := RestartStatus{StopSkipped: state != runtime.StateRunning}
	if state == runtime.StateRunning {
		if _, err := c.Stop(ctx, name); err != nil {
			return RestartStatus{}, err
		}
	} else {
		c.logger.Info("container not running, skipping stop phase", "container", name)
	}

	status.Start, err = c.Start(ctx, name)
	if err != nil {
		return RestartStatus{}, err
	}
	return status, nil
}

// Resync re-applies configuration management inside a running
// container. Starting a stopped container first is the caller's
// responsibility.
func (c *Controller) Resync(ctx context.Context, name string) error {
	if err := c.reg.CheckValid(ctx, name); err != nil {
		return err
	}
	c.logger.Info("resyncing container", "container", name)
	if err := c.shell.Run(ctx, name, c.cfg.ResyncCommand); err != nil {
		return fmt.Errorf("resync %q: %w", name, err)
	}
	c.emitter.Emit(events.Event{Type: events.ContainerResynced, Container: name})
	return nil
}

// Destroy stops a running container (full escalation policy applies)
// and removes it from the runtime. Not idempotent: a second call
// fails with NotFound because the container no longer exists.
func (c *Controller) Destroy(ctx context.Context, name string) error {
	if err := c.reg.CheckValid(ctx, name); err != nil {
		return err
	}
	state, err := c.gw.State(ctx, name)
	if err != nil {
		return err
	}
	if state == runtime.StateRunning {
		if _, err := c.Stop(ctx, name); err != nil {
			return err
		}
	}
	if err := c.gw.Destroy(ctx, name); err != nil {
		return err
	}
	c.emitter.Emit(events.Event{Type: events.ContainerDestroyed, Container: name})
	return nil
}

func countProcesses(procs []runtime.Process, name string) int {
	n := 0
	for _, p := range procs {
		if p.Container == name {
			n++
		}
	}
	return n
}
