package lifecycle

import (
	"errors"
	"fmt"
)

// Precondition violations. Start and Stop refuse to absorb these
// silently so callers can distinguish "no-op" from "action taken";
// fleet passes catch and log them instead of escalating.
var (
	ErrAlreadyRunning = errors.New("already running")
	ErrAlreadyStopped = errors.New("already stopped")
)

func alreadyRunning(name string) error {
	return fmt.Errorf("container %q is %w", name, ErrAlreadyRunning)
}

func alreadyStopped(name string) error {
	return fmt.Errorf("container %q is %w", name, ErrAlreadyStopped)
}
