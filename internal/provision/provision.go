// Package provision templates a freshly created container's root
// filesystem: network configuration, hostname, the guest-side
// readiness hook, optional home bind mount with a mirrored host
// account, optional package mirror rewrite, and baseline packages.
package provision

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Shell runs a command inside a running container.
type Shell interface {
	Run(ctx context.Context, name string, argv []string) error
}

// Spec describes what to apply to a new container.
type Spec struct {
	Name      string
	IPAddress string
	Netmask   string
	GatewayIP string
	BindHome  string // host home directory to bind mount, "" to skip
	Account   string // host account to mirror into the guest, "" to skip
	MirrorURL string // replacement package mirror, "" to keep default
	Packages  []string
	Autostart bool
}

// Provisioner applies post-create templating to container root
// filesystems under the storage root.
type Provisioner struct {
	root       string
	markerPath string // guest-relative readiness marker path
	shell      Shell
	logger     *slog.Logger
}

func New(root, markerPath string, shell Shell, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		root:       root,
		markerPath: markerPath,
		shell:      shell,
		logger:     logger.With("component", "provision"),
	}
}

// Apply templates the container's root filesystem. The container
// must exist and be stopped.
func (p *Provisioner) Apply(spec Spec) error {
	rootfs := filepath.Join(p.root, spec.Name, "rootfs")
	if _, err := os.Stat(rootfs); err != nil {
		return fmt.Errorf("provision %q: %w", spec.Name, err)
	}

	if err := p.writeInterfaces(rootfs, spec); err != nil {
		return err
	}
	if err := p.writeHostname(rootfs, spec.Name); err != nil {
		return err
	}
	if err := p.writeReadinessHook(rootfs); err != nil {
		return err
	}
	if spec.BindHome != "" {
		if err := p.bindHome(spec.Name, spec.BindHome); err != nil {
			return err
		}
	}
	if spec.Account != "" {
		if err := p.mirrorAccount(rootfs, spec.Account); err != nil {
			return err
		}
	}
	if spec.MirrorURL != "" {
		if err := p.rewriteMirror(rootfs, spec.MirrorURL); err != nil {
			return err
		}
	}
	if spec.Autostart {
		marker := filepath.Join(p.root, spec.Name, "autostart")
		if err := os.WriteFile(marker, nil, 0644); err != nil {
			return fmt.Errorf("set autostart for %q: %w", spec.Name, err)
		}
	}

	p.logger.Info("container provisioned", "container", spec.Name, "ip", spec.IPAddress)
	return nil
}

// InstallPackages installs the baseline package set inside a running
// container.
func (p *Provisioner) InstallPackages(ctx context.Context, name string, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	p.logger.Info("installing baseline packages", "container", name, "packages", packages)
	argv := append([]string{"apt-get", "install", "-y"}, packages...)
	if err := p.shell.Run(ctx, name, argv); err != nil {
		return fmt.Errorf("install packages in %q: %w", name, err)
	}
	return nil
}

func (p *Provisioner) writeInterfaces(rootfs string, spec Spec) error {
	netmask := spec.Netmask
	if netmask == "" {
		netmask = "255.255.255.0"
	}
	content := fmt.Sprintf(`auto lo
iface lo inet loopback

auto eth0
iface eth0 inet static
    address %s
    netmask %s
    gateway %s
`, spec.IPAddress, netmask, spec.GatewayIP)

	path := filepath.Join(rootfs, "etc", "network", "interfaces")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("provision %q: %w", spec.Name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write interfaces for %q: %w", spec.Name, err)
	}
	return nil
}

func (p *Provisioner) writeHostname(rootfs, name string) error {
	path := filepath.Join(rootfs, "etc", "hostname")
	if err := os.WriteFile(path, []byte(name+"\n"), 0644); err != nil {
		return fmt.Errorf("write hostname for %q: %w", name, err)
	}
	return nil
}

// writeReadinessHook installs an if-up script so the guest touches
// the readiness marker once its primary interface comes up. The
// controller only ever reads and deletes the marker; the guest is
// the writer.
func (p *Provisioner) writeReadinessHook(rootfs string) error {
	marker := "/" + strings.TrimPrefix(p.markerPath, "/")
	script := fmt.Sprintf(`#!/bin/sh
[ "$IFACE" = eth0 ] || exit 0
mkdir -p %s
touch %s
`, filepath.Dir(marker), marker)

	path := filepath.Join(rootfs, "etc", "network", "if-up.d", "burrow-ready")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("write readiness hook: %w", err)
	}
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return fmt.Errorf("write readiness hook: %w", err)
	}
	return nil
}

func (p *Provisioner) bindHome(name, home string) error {
	guestHome := filepath.Join(p.root, name, "rootfs", strings.TrimPrefix(home, "/"))
	if err := os.MkdirAll(guestHome, 0755); err != nil {
		return fmt.Errorf("bind home for %q: %w", name, err)
	}
	entry := fmt.Sprintf("%s %s none bind 0 0\n", home, guestHome)

	fstab := filepath.Join(p.root, name, "fstab")
	f, err := os.OpenFile(fstab, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("bind home for %q: %w", name, err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("bind home for %q: %w", name, err)
	}
	return nil
}

// mirrorAccount copies the host's passwd and group entries for an
// account into the guest so uids line up across the bind mount.
func (p *Provisioner) mirrorAccount(rootfs, account string) error {
	for _, file := range []string{"passwd", "group"} {
		hostPath := filepath.Join("/etc", file)
		guestPath := filepath.Join(rootfs, "etc", file)

		line, err := findEntry(hostPath, account)
		if err != nil {
			return fmt.Errorf("mirror account %q: %w", account, err)
		}
		if line == "" {
			continue // no group of the same name is fine
		}
		existing, err := findEntry(guestPath, account)
		if err != nil {
			return fmt.Errorf("mirror account %q: %w", account, err)
		}
		if existing != "" {
			continue
		}

		f, err := os.OpenFile(guestPath, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("mirror account %q: %w", account, err)
		}
		_, werr := f.WriteString(line + "\n")
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("mirror account %q: %w", account, werr)
		}
	}
	return nil
}

func (p *Provisioner) rewriteMirror(rootfs, mirror string) error {
	path := filepath.Join(rootfs, "etc", "apt", "sources.list")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("rewrite mirror: %w", err)
	}

	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && (fields[0] == "deb" || fields[0] == "deb-src") {
			fields[1] = mirror
			line = strings.Join(fields, " ")
		}
		out = append(out, line)
	}
	if err := os.WriteFile(path, []byte(strings.Join(out, "\n")), 0644); err != nil {
		return fmt.Errorf("rewrite mirror: %w", err)
	}
	return nil
}

func findEntry(path, account string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, account+":") {
			return line, nil
		}
	}
	return "", scanner.Err()
}
