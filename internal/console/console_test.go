package console

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"burrow/internal/registry"
)

type fakeAttacher struct {
	calls int
	err   error
}

func (f *fakeAttacher) Console(context.Context, string) error {
	f.calls++
	return f.err
}

type fakeValidator struct {
	valid map[string]bool
}

func (f *fakeValidator) CheckValid(_ context.Context, name string) error {
	if !f.valid[name] {
		return &registry.NotFoundError{Name: name}
	}
	return nil
}

func newTestSession(t *testing.T, gw *fakeAttacher) (*Session, string) {
	t.Helper()
	lockDir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := &fakeValidator{valid: map[string]bool{"web": true}}
	return NewSession(gw, reg, lockDir, logger), lockDir
}

func lockExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name+".lock"))
	return err == nil
}

func TestAttachUnknownName(t *testing.T) {
	gw := &fakeAttacher{}
	s, _ := newTestSession(t, gw)

	var notFound *registry.NotFoundError
	if err := s.Attach(context.Background(), "ghost"); !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if gw.calls != 0 {
		t.Error("console attached for unknown name")
	}
}

func TestAttachReleasesLockOnSuccess(t *testing.T) {
	gw := &fakeAttacher{}
	s, lockDir := newTestSession(t, gw)

	if err := s.Attach(context.Background(), "web"); err != nil {
		t.Fatal(err)
	}
	if gw.calls != 1 {
		t.Errorf("console calls = %d, want 1", gw.calls)
	}
	if lockExists(lockDir, "web") {
		t.Error("lock file left behind after clean session")
	}
}

func TestAttachReleasesLockOnConsoleFailure(t *testing.T) {
	gw := &fakeAttacher{err: errors.New("console exited 1")}
	s, lockDir := newTestSession(t, gw)

	if err := s.Attach(context.Background(), "web"); err == nil {
		t.Fatal("expected console error to surface")
	}
	if lockExists(lockDir, "web") {
		t.Error("lock file left behind after failed session")
	}
}

func TestAttachFailsFastWhenLocked(t *testing.T) {
	gw := &fakeAttacher{}
	s, lockDir := newTestSession(t, gw)

	stale := filepath.Join(lockDir, "web.lock")
	if err := os.WriteFile(stale, []byte("session=x pid=1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := s.Attach(context.Background(), "web")
	var locked *AlreadyLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("err = %v, want AlreadyLockedError", err)
	}
	if gw.calls != 0 {
		t.Error("console attached despite existing lock")
	}
	if !lockExists(lockDir, "web") {
		t.Error("existing lock was removed; a stale lock is not auto-recovered")
	}
}
