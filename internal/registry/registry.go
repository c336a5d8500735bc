package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// NotFoundError reports an operation against a container name the
// host does not know.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("No such container '%s'", e.Name)
}

// Registry enumerates and validates the containers known to the host.
type Registry interface {
	Exists(ctx context.Context, name string) bool
	CheckValid(ctx context.Context, name string) error
	ListAll(ctx context.Context) ([]string, error)
	Autostart(ctx context.Context, name string) bool
}

// Dir is a Registry over the runtime's per-container storage root:
// a container exists iff its storage directory does. The autostart
// flag is the presence of a marker file in the container's directory.
type Dir struct {
	root   string
	logger *slog.Logger
}

const autostartMarker = "autostart"

func NewDir(root string, logger *slog.Logger) *Dir {
	return &Dir{
		root:   root,
		logger: logger.With("component", "registry"),
	}
}

// Root returns the storage root the registry enumerates.
func (d *Dir) Root() string { return d.root }

// ContainerDir returns the per-container storage directory.
func (d *Dir) ContainerDir(name string) string {
	return filepath.Join(d.root, name)
}

// AutostartMarker returns the path of the container's autostart flag.
func (d *Dir) AutostartMarker(name string) string {
	return filepath.Join(d.root, name, autostartMarker)
}

func (d *Dir) Exists(_ context.Context, name string) bool {
	info, err := os.Stat(d.ContainerDir(name))
	return err == nil && info.IsDir()
}

func (d *Dir) CheckValid(ctx context.Context, name string) error {
	if !d.Exists(ctx, name) {
		return &NotFoundError{Name: name}
	}
	return nil
}

// ListAll enumerates container names from the storage root. The order
// is the directory listing order; callers needing determinism must
// sort. Each call re-reads the directory, so concurrent external
// changes are reflected.
func (d *Dir) ListAll(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list containers in %s: %w", d.root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (d *Dir) Autostart(_ context.Context, name string) bool {
	_, err := os.Stat(d.AutostartMarker(name))
	return err == nil
}

// SetAutostart creates or removes the autostart marker.
func (d *Dir) SetAutostart(name string, enabled bool) error {
	marker := d.AutostartMarker(name)
	if enabled {
		if err := os.WriteFile(marker, nil, 0644); err != nil {
			return fmt.Errorf("set autostart for %q: %w", name, err)
		}
		return nil
	}
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear autostart for %q: %w", name, err)
	}
	return nil
}
