package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LXC drives the LXC userspace tools (lxc-start, lxc-stop, lxc-wait,
// lxc-info, lxc-ps, lxc-create, lxc-destroy, lxc-console).
type LXC struct {
	storageRoot string
	markerPath  string // relative to the container rootfs
	logger      *slog.Logger
}

// NewLXC creates an LXC gateway. storageRoot is the runtime's
// per-container storage location (normally /var/lib/lxc); markerPath
// is the guest-relative path of the network readiness marker.
func NewLXC(storageRoot, markerPath string, logger *slog.Logger) *LXC {
	return &LXC{
		storageRoot: storageRoot,
		markerPath:  markerPath,
		logger:      logger.With("component", "lxc"),
	}
}

func (l *LXC) Create(ctx context.Context, name string, tmpl TemplateSpec) error {
	args := []string{"-n", name, "-t", tmpl.Template}
	if len(tmpl.Args) > 0 {
		args = append(args, "--")
		args = append(args, tmpl.Args...)
	}
	return l.run(ctx, "create", name, "lxc-create", args...)
}

func (l *LXC) Start(ctx context.Context, name string) error {
	// -d: daemonize so the call returns once the init process forks.
	return l.run(ctx, "start", name, "lxc-start", "-n", name, "-d")
}

func (l *LXC) StopForceful(ctx context.Context, name string) error {
	return l.run(ctx, "stop", name, "lxc-stop", "-n", name)
}

func (l *LXC) Destroy(ctx context.Context, name string) error {
	return l.run(ctx, "destroy", name, "lxc-destroy", "-n", name)
}

func (l *LXC) WaitForState(ctx context.Context, name string, target RunState) error {
	var state string
	switch target {
	case StateRunning:
		state = "RUNNING"
	case StateStopped:
		state = "STOPPED"
	default:
		return fmt.Errorf("wait %q: no wire representation for state %v", name, target)
	}
	return l.run(ctx, "wait", name, "lxc-wait", "-n", name, "-s", state)
}

func (l *LXC) State(ctx context.Context, name string) (RunState, error) {
	out, err := l.output(ctx, "inspect", name, "lxc-info", "-n", name)
	if err != nil {
		return StateUnknown, err
	}
	return parseInfoState(out), nil
}

func (l *LXC) ListProcesses(ctx context.Context) ([]Process, error) {
	out, err := l.output(ctx, "list processes", "", "lxc-ps", "--lxc")
	if err != nil {
		return nil, err
	}
	return parseProcessList(out), nil
}

func (l *LXC) NetworkReady(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(l.markerFile(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("check network marker for %q: %w", name, err)
}

func (l *LXC) ClearNetworkReady(_ context.Context, name string) error {
	if err := os.Remove(l.markerFile(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear network marker for %q: %w", name, err)
	}
	return nil
}

func (l *LXC) IPAddress(ctx context.Context, name string) (string, error) {
	out, err := l.output(ctx, "inspect", name, "lxc-info", "-n", name, "-i")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if k, v, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(k) == "IP" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", nil
}

func (l *LXC) Console(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, "lxc-console", "-n", name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return wrapExit("console", name, "", err)
	}
	return nil
}

func (l *LXC) markerFile(name string) string {
	return filepath.Join(l.storageRoot, name, "rootfs", l.markerPath)
}

func (l *LXC) run(ctx context.Context, op, name, bin string, args ...string) error {
	l.logger.Debug("running runtime command", "op", op, "container", name, "cmd", bin)
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		return wrapExit(op, name, strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (l *LXC) output(ctx context.Context, op, name, bin string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, bin, args...).Output()
	if err != nil {
		return "", wrapExit(op, name, "", err)
	}
	return string(out), nil
}

func wrapExit(op, name, output string, err error) error {
	if exitErr, ok := err.(*exec.ExitError); ok {
		msg := output
		if msg == "" {
			msg = strings.TrimSpace(string(exitErr.Stderr))
		}
		return &CommandError{Op: op, Name: name, ExitCode: exitErr.ExitCode(), Output: msg, Err: err}
	}
	return fmt.Errorf("%s %q: %w", op, name, err)
}

// parseInfoState decodes the State line of lxc-info output.
func parseInfoState(out string) RunState {
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "state") {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "RUNNING":
			return StateRunning
		case "STOPPED":
			return StateStopped
		}
	}
	return StateUnknown
}

// parseProcessList decodes lxc-ps output: one process per line, the
// owning container name in the first column. The header line and
// processes outside any container (empty first column) are skipped.
func parseProcessList(out string) []Process {
	var procs []Process
	for i, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if i == 0 && strings.EqualFold(fields[0], "container") {
			continue
		}
		procs = append(procs, Process{
			Container: fields[0],
			PID:       fields[1],
			Command:   fields[len(fields)-1],
		})
	}
	return procs
}
