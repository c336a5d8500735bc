package runtime

import (
	"context"
	"fmt"
)

// RunState is the externally observable run state of a container,
// decoded once at the gateway boundary.
type RunState int

const (
	StateUnknown RunState = iota
	StateStopped
	StateRunning
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Process is one guest process as reported by the runtime's inspector.
type Process struct {
	Container string
	PID       string
	Command   string
}

// TemplateSpec describes the template a new container is created
// from. Autostart is honoured by backends that keep the flag in the
// runtime itself (docker labels); the LXC backend records it as a
// marker file during provisioning instead.
type TemplateSpec struct {
	Template  string
	Args      []string
	Autostart bool
}

// Gateway abstracts the container runtime's primitive operations.
// Implemented by LXC (shelling out to the lxc userspace tools) and
// Docker (engine API).
type Gateway interface {
	Create(ctx context.Context, name string, tmpl TemplateSpec) error
	Start(ctx context.Context, name string) error
	StopForceful(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error

	// WaitForState blocks until the runtime reports the target state.
	WaitForState(ctx context.Context, name string, target RunState) error

	// State queries the current run state, never cached.
	State(ctx context.Context, name string) (RunState, error)

	// ListProcesses reports every guest process on the host, tagged
	// with its owning container name.
	ListProcesses(ctx context.Context) ([]Process, error)

	// NetworkReady reports whether the guest has signalled that its
	// primary interface is configured. Advisory: the guest is the
	// writer of the underlying signal.
	NetworkReady(ctx context.Context, name string) (bool, error)

	// ClearNetworkReady removes the readiness signal so a later start
	// cannot observe stale data.
	ClearNetworkReady(ctx context.Context, name string) error

	// IPAddress returns the container's primary IP, or "" if none is
	// known yet.
	IPAddress(ctx context.Context, name string) (string, error)

	// Console attaches the calling terminal to the container console
	// and blocks for the duration of the session.
	Console(ctx context.Context, name string) error
}

// CommandError reports a runtime primitive that exited non-zero. The
// exit status is preserved so callers can propagate it.
type CommandError struct {
	Op       string
	Name     string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s %q: exit status %d: %s", e.Op, e.Name, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("%s %q: exit status %d", e.Op, e.Name, e.ExitCode)
}

func (e *CommandError) Unwrap() error { return e.Err }
