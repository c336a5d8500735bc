package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"burrow/internal/registry"
)

// AutostartLabel marks a docker container for fleet-wide autostart,
// standing in for the marker file the LXC backend keeps on disk.
const AutostartLabel = "burrow.autostart"

// Docker drives containers through the Docker Engine API. It doubles
// as a registry for hosts where the engine, not a storage directory,
// is the source of truth for known containers.
type Docker struct {
	api    *client.Client
	logger *slog.Logger
}

func NewDocker(api *client.Client, logger *slog.Logger) *Docker {
	return &Docker{
		api:    api,
		logger: logger.With("component", "docker"),
	}
}

func (d *Docker) Create(ctx context.Context, name string, tmpl TemplateSpec) error {
	cfg := &container.Config{
		Image:  tmpl.Template,
		Cmd:    tmpl.Args,
		Labels: map[string]string{},
	}
	if tmpl.Autostart {
		cfg.Labels[AutostartLabel] = "true"
	}
	if _, err := d.api.ContainerCreate(ctx, cfg, nil, nil, nil, name); err != nil {
		return fmt.Errorf("create container %q: %w", name, err)
	}
	return nil
}

func (d *Docker) Start(ctx context.Context, name string) error {
	d.logger.Info("starting container", "container", name)
	if err := d.api.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", name, err)
	}
	return nil
}

func (d *Docker) StopForceful(ctx context.Context, name string) error {
	d.logger.Info("stopping container", "container", name)
	timeout := 0
	if err := d.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container %q: %w", name, err)
	}
	return nil
}

func (d *Docker) Destroy(ctx context.Context, name string) error {
	if err := d.api.ContainerRemove(ctx, name, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("remove container %q: %w", name, err)
	}
	return nil
}

func (d *Docker) WaitForState(ctx context.Context, name string, target RunState) error {
	if target == StateStopped {
		statusCh, errCh := d.api.ContainerWait(ctx, name, container.WaitConditionNotRunning)
		select {
		case <-statusCh:
			return nil
		case err := <-errCh:
			return fmt.Errorf("wait for %q stopped: %w", name, err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The engine has no "wait until running" primitive; poll inspect.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		state, err := d.State(ctx, name)
		if err != nil {
			return err
		}
		if state == target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Docker) State(ctx context.Context, name string) (RunState, error) {
	info, err := d.api.ContainerInspect(ctx, name)
	if err != nil {
		return StateUnknown, fmt.Errorf("inspect container %q: %w", name, err)
	}
	if info.State != nil && info.State.Running {
		return StateRunning, nil
	}
	return StateStopped, nil
}

func (d *Docker) ListProcesses(ctx context.Context) ([]Process, error) {
	names, err := d.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var procs []Process
	for _, name := range names {
		top, err := d.api.ContainerTop(ctx, name, nil)
		if err != nil {
			if errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
				continue // stopped or removed mid-pass
			}
			return nil, fmt.Errorf("list processes in %q: %w", name, err)
		}
		pid, cmd := topColumns(top.Titles)
		for _, row := range top.Processes {
			p := Process{Container: name}
			if pid >= 0 && pid < len(row) {
				p.PID = row[pid]
			}
			if cmd >= 0 && cmd < len(row) {
				p.Command = row[cmd]
			}
			procs = append(procs, p)
		}
	}
	return procs, nil
}

func (d *Docker) NetworkReady(ctx context.Context, name string) (bool, error) {
	ip, err := d.IPAddress(ctx, name)
	if err != nil {
		return false, err
	}
	return ip != "", nil
}

// ClearNetworkReady is a no-op: the engine withdraws the address
// itself when the container stops.
func (d *Docker) ClearNetworkReady(context.Context, string) error { return nil }

func (d *Docker) IPAddress(ctx context.Context, name string) (string, error) {
	info, err := d.api.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("inspect container %q: %w", name, err)
	}
	if info.NetworkSettings == nil {
		return "", nil
	}
	if info.NetworkSettings.IPAddress != "" {
		return info.NetworkSettings.IPAddress, nil
	}
	for _, nw := range info.NetworkSettings.Networks {
		if nw.IPAddress != "" {
			return nw.IPAddress, nil
		}
	}
	return "", nil
}

// Console attaches via the docker CLI, which already handles raw
// terminal mode and detach sequences.
func (d *Docker) Console(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, "docker", "attach", name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return wrapExit("console", name, "", err)
	}
	return nil
}

// Exists implements the registry over the engine's container list.
func (d *Docker) Exists(ctx context.Context, name string) bool {
	_, err := d.api.ContainerInspect(ctx, name)
	return err == nil
}

func (d *Docker) CheckValid(ctx context.Context, name string) error {
	if !d.Exists(ctx, name) {
		return &registry.NotFoundError{Name: name}
	}
	return nil
}

func (d *Docker) ListAll(ctx context.Context) ([]string, error) {
	containers, err := d.api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	var names []string
	for _, c := range containers {
		if len(c.Names) == 0 {
			continue
		}
		names = append(names, strings.TrimPrefix(c.Names[0], "/"))
	}
	return names, nil
}

func (d *Docker) Autostart(ctx context.Context, name string) bool {
	info, err := d.api.ContainerInspect(ctx, name)
	if err != nil || info.Config == nil {
		return false
	}
	return info.Config.Labels[AutostartLabel] == "true"
}

func topColumns(titles []string) (pid, cmd int) {
	pid, cmd = -1, -1
	for i, t := range titles {
		switch strings.ToUpper(t) {
		case "PID":
			pid = i
		case "CMD", "COMMAND":
			cmd = i
		}
	}
	return pid, cmd
}
