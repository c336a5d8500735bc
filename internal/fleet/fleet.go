// Package fleet applies lifecycle operations across every container
// known to the host. Passes are sequential and deterministic (sorted
// by name), with per-container fault isolation: one misbehaving
// container never blocks the rest of the fleet, and every pass
// covers the full registry.
package fleet

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"burrow/internal/events"
	"burrow/internal/lifecycle"
	"burrow/internal/runtime"
)

// Controller is the per-container surface a fleet pass drives.
type Controller interface {
	State(ctx context.Context, name string) (runtime.RunState, error)
	Start(ctx context.Context, name string) (lifecycle.StartStatus, error)
	Stop(ctx context.Context, name string) (lifecycle.StopStatus, error)
	Resync(ctx context.Context, name string) error
}

// Lister enumerates containers and their autostart flags.
type Lister interface {
	ListAll(ctx context.Context) ([]string, error)
	Autostart(ctx context.Context, name string) bool
}

// Per-container outcomes within a pass.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Result is one container's outcome within a pass.
type Result struct {
	Name    string           `json:"name"`
	Outcome string           `json:"outcome"`
	State   runtime.RunState `json:"-"`
	Detail  string           `json:"detail,omitempty"`
	Err     error            `json:"-"`
}

// Report aggregates a full pass over the registry.
type Report struct {
	ID      string    `json:"id"`
	Op      string    `json:"op"`
	Started time.Time `json:"started"`
	Results []Result  `json:"results"`
}

// Failed counts failed results.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// Orchestrator runs fleet-wide passes.
type Orchestrator struct {
	ctl     Controller
	reg     Lister
	emitter *events.Emitter
	logger  *slog.Logger
}

func NewOrchestrator(ctl Controller, reg Lister, emitter *events.Emitter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		ctl:     ctl,
		reg:     reg,
		emitter: emitter,
		logger:  logger.With("component", "fleet"),
	}
}

// StatusAll queries every container's run state. Individual query
// failures are recorded per container, never aborting the pass.
func (o *Orchestrator) StatusAll(ctx context.Context) (*Report, error) {
	return o.pass(ctx, "status", func(ctx context.Context, name string) Result {
		state, err := o.ctl.State(ctx, name)
		if err != nil {
			return Result{Name: name, Outcome: OutcomeFailed, Err: err}
		}
		return Result{Name: name, Outcome: OutcomeOK, State: state}
	})
}

// AutostartAll starts every container carrying the autostart flag.
func (o *Orchestrator) AutostartAll(ctx context.Context) (*Report, error) {
	return o.pass(ctx, "autostart", func(ctx context.Context, name string) Result {
		if !o.reg.Autostart(ctx, name) {
			return Result{Name: name, Outcome: OutcomeSkipped, Detail: "autostart not set"}
		}
		status, err := o.ctl.Start(ctx, name)
		if err != nil {
			o.logger.Error("autostart failed", "container", name, "error", err)
			return Result{Name: name, Outcome: OutcomeFailed, Err: err}
		}
		res := Result{Name: name, Outcome: OutcomeOK, State: runtime.StateRunning}
		if !status.NetworkConfirmed {
			res.Detail = "network unconfirmed"
		}
		return res
	})
}

// StopAll gracefully stops every running container.
func (o *Orchestrator) StopAll(ctx context.Context) (*Report, error) {
	return o.pass(ctx, "stopall", func(ctx context.Context, name string) Result {
		state, err := o.ctl.State(ctx, name)
		if err != nil {
			return Result{Name: name, Outcome: OutcomeFailed, Err: err}
		}
		if state != runtime.StateRunning {
			return Result{Name: name, Outcome: OutcomeSkipped, Detail: "not running"}
		}
		if _, err := o.ctl.Stop(ctx, name); err != nil {
			o.logger.Error("stop failed", "container", name, "error", err)
			return Result{Name: name, Outcome: OutcomeFailed, Err: err}
		}
		return Result{Name: name, Outcome: OutcomeOK, State: runtime.StateStopped}
	})
}

// ResyncAll re-applies configuration in every running container.
// With all=true, stopped containers are started for the resync and
// stopped again afterwards: prior run state is saved and restored
// around the side-effecting operation, even when the resync itself
// fails. A container whose restore-start fails skips the resync but
// still counts as failed.
func (o *Orchestrator) ResyncAll(ctx context.Context, all bool) (*Report, error) {
	return o.pass(ctx, "resync", func(ctx context.Context, name string) Result {
		state, err := o.ctl.State(ctx, name)
		if err != nil {
			return Result{Name: name, Outcome: OutcomeFailed, Err: err}
		}

		wasStopped := state == runtime.StateStopped
		if wasStopped {
			if !all {
				return Result{Name: name, Outcome: OutcomeSkipped, Detail: "not running"}
			}
			if _, err := o.ctl.Start(ctx, name); err != nil {
				o.logger.Error("start for resync failed", "container", name, "error", err)
				return Result{Name: name, Outcome: OutcomeFailed, Err: err}
			}
		}

		resyncErr := o.ctl.Resync(ctx, name)
		if resyncErr != nil {
			o.logger.Error("resync failed", "container", name, "error", resyncErr)
		}

		if wasStopped {
			if _, err := o.ctl.Stop(ctx, name); err != nil {
				o.logger.Error("stop after resync failed", "container", name, "error", err)
				if resyncErr == nil {
					resyncErr = err
				}
			}
		}

		if resyncErr != nil {
			return Result{Name: name, Outcome: OutcomeFailed, Err: resyncErr}
		}
		return Result{Name: name, Outcome: OutcomeOK, State: state}
	})
}

func (o *Orchestrator) pass(ctx context.Context, op string, fn func(ctx context.Context, name string) Result) (*Report, error) {
	names, err := o.reg.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	report := &Report{
		ID:      uuid.NewString(),
		Op:      op,
		Started: time.Now(),
	}
	for _, name := range names {
		res := fn(ctx, name)
		if res.Err != nil && res.Detail == "" {
			res.Detail = res.Err.Error()
		}
		report.Results = append(report.Results, res)
	}

	o.logger.Info("fleet pass complete", "op", op, "run_id", report.ID,
		"containers", len(report.Results), "failed", report.Failed())
	o.emitter.Emit(events.Event{Type: events.FleetPassDone, Fields: map[string]string{
		"op":         op,
		"run_id":     report.ID,
		"containers": strconv.Itoa(len(report.Results)),
		"failed":     strconv.Itoa(report.Failed()),
	}})
	return report, nil
}
