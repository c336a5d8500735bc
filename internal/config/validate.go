package config

import "fmt"

func validate(cfg *Config) error {
	switch cfg.Runtime {
	case "lxc", "docker":
		// valid
	default:
		return fmt.Errorf("config: unknown runtime %q (want lxc or docker)", cfg.Runtime)
	}

	if cfg.Readiness.Attempts < 1 {
		return fmt.Errorf("config: readiness.attempts must be at least 1")
	}
	if cfg.Readiness.Interval <= 0 {
		return fmt.Errorf("config: readiness.interval must be positive")
	}
	if cfg.Shutdown.Grace <= 0 {
		return fmt.Errorf("config: shutdown.grace must be positive")
	}
	if cfg.Shutdown.PollInterval <= 0 {
		return fmt.Errorf("config: shutdown.poll_interval must be positive")
	}
	if cfg.Shutdown.PollInterval > cfg.Shutdown.Grace {
		return fmt.Errorf("config: shutdown.poll_interval exceeds shutdown.grace")
	}
	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("config: monitor.interval must be positive")
	}
	return nil
}
