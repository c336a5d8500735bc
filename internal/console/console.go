// Package console guards interactive console sessions with a
// per-container lock file: exclusive acquisition up front, guaranteed
// release on every exit path. A crash leaves a stale lock behind;
// that is accepted rather than auto-recovered.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// AlreadyLockedError reports a console that is already in use.
type AlreadyLockedError struct {
	Name string
	Path string
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("console for %q already in use (lock file %s)", e.Name, e.Path)
}

// Attacher attaches the calling terminal to a container console.
type Attacher interface {
	Console(ctx context.Context, name string) error
}

// Validator checks that a name refers to an existing container.
type Validator interface {
	CheckValid(ctx context.Context, name string) error
}

// Session runs lock-guarded console sessions.
type Session struct {
	gw     Attacher
	reg    Validator
	locks  string // directory holding per-container lock files
	logger *slog.Logger
}

func NewSession(gw Attacher, reg Validator, lockDir string, logger *slog.Logger) *Session {
	return &Session{
		gw:     gw,
		reg:    reg,
		locks:  lockDir,
		logger: logger.With("component", "console"),
	}
}

// Attach acquires the container's console lock, attaches for the
// duration of the session, and releases the lock when the session
// ends, even when the console command itself fails.
func (s *Session) Attach(ctx context.Context, name string) error {
	if err := s.reg.CheckValid(ctx, name); err != nil {
		return err
	}

	lock, err := s.acquire(name)
	if err != nil {
		return err
	}
	defer lock.release(s.logger)

	s.logger.Info("console session opened", "container", name, "session", lock.session)
	return s.gw.Console(ctx, name)
}

type lock struct {
	path    string
	session string
}

// acquire creates the lock file exclusively, failing fast if it
// already exists. The file records a session id and pid for
// diagnosing stale locks.
func (s *Session) acquire(name string) (*lock, error) {
	path := filepath.Join(s.locks, name+".lock")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, &AlreadyLockedError{Name: name, Path: path}
		}
		return nil, fmt.Errorf("acquire console lock for %q: %w", name, err)
	}

	session := uuid.NewString()
	fmt.Fprintf(f, "session=%s pid=%d\n", session, os.Getpid())
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write console lock for %q: %w", name, err)
	}
	return &lock{path: path, session: session}, nil
}

func (l *lock) release(logger *slog.Logger) {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logger.Error("failed to release console lock", "path", l.path, "error", err)
	}
}
