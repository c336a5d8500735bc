// Package shell runs commands inside a running container over SSH to
// the container's primary IP. Network readiness is a precondition:
// a container without a known IP cannot be reached.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// IPResolver resolves a container's primary IP address.
type IPResolver interface {
	IPAddress(ctx context.Context, name string) (string, error)
}

// Config holds the SSH transport settings.
type Config struct {
	User    string `yaml:"user"`
	KeyPath string `yaml:"key_path"`
}

// DefaultConfig returns the stock SSH settings.
func DefaultConfig() Config {
	return Config{User: "root"}
}

// Runner executes commands inside containers.
type Runner struct {
	ips    IPResolver
	cfg    Config
	logger *slog.Logger
}

func NewRunner(ips IPResolver, cfg Config, logger *slog.Logger) *Runner {
	return &Runner{
		ips:    ips,
		cfg:    cfg,
		logger: logger.With("component", "shell"),
	}
}

// Run executes argv inside the container and waits for it to exit.
func (r *Runner) Run(ctx context.Context, name string, argv []string) error {
	cmd, err := r.command(ctx, name, argv)
	if err != nil {
		return err
	}
	r.logger.Debug("running guest command", "container", name, "cmd", strings.Join(argv, " "))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %q in %q: %w: %s", strings.Join(argv, " "), name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Interactive executes argv inside the container with the calling
// terminal attached; with empty argv it opens a login shell.
func (r *Runner) Interactive(ctx context.Context, name string, argv []string) error {
	cmd, err := r.command(ctx, name, argv)
	if err != nil {
		return err
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (r *Runner) command(ctx context.Context, name string, argv []string) (*exec.Cmd, error) {
	ip, err := r.ips.IPAddress(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve IP for %q: %w", name, err)
	}
	if ip == "" {
		return nil, fmt.Errorf("no IP address known for container %q: is its network configured?", name)
	}

	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "LogLevel=ERROR",
	}
	if r.cfg.KeyPath != "" {
		args = append(args, "-i", r.cfg.KeyPath)
	}
	args = append(args, fmt.Sprintf("%s@%s", r.cfg.User, ip))
	if len(argv) > 0 {
		args = append(args, "--")
		args = append(args, argv...)
	}
	return exec.CommandContext(ctx, "ssh", args...), nil
}
