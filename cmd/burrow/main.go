package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"burrow/internal/config"
	"burrow/internal/console"
	"burrow/internal/events"
	"burrow/internal/fleet"
	"burrow/internal/lifecycle"
	"burrow/internal/metrics"
	"burrow/internal/provision"
	"burrow/internal/registry"
	"burrow/internal/runtime"
	"burrow/internal/shell"
	"burrow/internal/store"
)

const defaultConfigPath = "/etc/burrow/burrow.yaml"

var (
	configPath string
	verbose    bool

	app *App
)

// App holds the wired components every command draws from.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	gw      runtime.Gateway
	reg     registry.Registry
	dir     *registry.Dir // nil when the docker runtime is selected
	ctl     *lifecycle.Controller
	fleet   *fleet.Orchestrator
	emitter *events.Emitter
	shell   *shell.Runner
	prov    *provision.Provisioner
	console *console.Session

	publisher *events.Publisher
	audit     store.AuditLog
	docker    *client.Client
}

func main() {
	root := &cobra.Command{
		Use:           "burrow",
		Short:         "Manage the lifecycle of containers on this host",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if os.Geteuid() != 0 {
				return fmt.Errorf("burrow must be run as root")
			}
			var err error
			app, err = newApp()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				app.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to config file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		createCmd(),
		destroyCmd(),
		startCmd(),
		stopCmd(),
		restartCmd(),
		statusCmd(),
		resyncCmd(),
		enterCmd(),
		execCmd(),
		consoleCmd(),
		autostartCmd(),
		stopallCmd(),
		monitorCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode propagates the underlying runtime primitive's exit status
// when one is known; everything else is a plain failure.
func exitCode(err error) int {
	var cmdErr *runtime.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return 1
}

func newApp() (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !os.IsNotExist(err) || configPath != defaultConfigPath {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a := &App{cfg: cfg, logger: logger}
	a.emitter = events.NewEmitter(logger)
	metrics.RegisterEventHandler(a.emitter)

	switch cfg.Runtime {
	case "docker":
		api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("create docker client: %w", err)
		}
		a.docker = api
		dockerGW := runtime.NewDocker(api, logger)
		a.gw = dockerGW
		a.reg = dockerGW
	default:
		a.gw = runtime.NewLXC(cfg.StorageRoot, cfg.MarkerPath, logger)
		a.dir = registry.NewDir(cfg.StorageRoot, logger)
		a.reg = a.dir
	}

	a.shell = shell.NewRunner(a.gw, shell.Config{User: cfg.SSH.User, KeyPath: cfg.SSH.KeyPath}, logger)

	a.ctl = lifecycle.NewController(a.gw, a.shell, a.reg, lifecycle.Config{
		NetworkReadyAttempts: cfg.Readiness.Attempts,
		NetworkReadyInterval: cfg.Readiness.Interval,
		ShutdownGrace:        cfg.Shutdown.Grace,
		ShutdownPollInterval: cfg.Shutdown.PollInterval,
		HaltCommand:          cfg.HaltCommand,
		ResyncCommand:        cfg.ResyncCommand,
	}, a.emitter, logger)

	a.fleet = fleet.NewOrchestrator(a.ctl, a.reg, a.emitter, logger)
	a.prov = provision.New(cfg.StorageRoot, cfg.MarkerPath, a.shell, logger)

	if err := os.MkdirAll(cfg.LockDir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	a.console = console.NewSession(a.gw, a.reg, cfg.LockDir, logger)

	if cfg.NATS.URL != "" {
		pub, err := events.Connect(events.PublisherConfig{
			URL:            cfg.NATS.URL,
			Token:          cfg.NATS.Token,
			ConnectTimeout: 5 * time.Second,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
		}, logger)
		if err != nil {
			logger.Warn("event publishing disabled", "error", err)
		} else {
			pub.Attach(a.emitter)
			a.publisher = pub
		}
	}

	if cfg.Audit.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		audit, err := store.NewPostgresAudit(ctx, cfg.Audit.DatabaseURL)
		cancel()
		if err != nil {
			logger.Warn("operation audit disabled", "error", err)
		} else {
			a.audit = audit
		}
	}

	return a, nil
}

func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
	if a.docker != nil {
		a.docker.Close()
	}
}

// audited runs a lifecycle operation and records its outcome in the
// audit log when one is configured.
func (a *App) audited(ctx context.Context, op, name string, fn func() error) error {
	started := time.Now()
	err := fn()

	if a.audit != nil {
		entry := store.Entry{
			ID:        uuid.NewString(),
			Container: name,
			Op:        op,
			Outcome:   "ok",
			Duration:  time.Since(started),
			At:        started,
		}
		if err != nil {
			entry.Outcome = "failed"
			entry.Detail = err.Error()
		}
		if recErr := a.audit.Record(ctx, entry); recErr != nil {
			a.logger.Warn("failed to record audit entry", "error", recErr)
		}
	}
	return err
}
