// Package pkgmgr queries and mutates the host package database through
// dnf. Only dnf is supported; the binary name is configurable so that
// dnf-compatible front ends (dnf5, microdnf) can be used.
package pkgmgr

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/shinji-kodama/vbox-guest-additions/internal/execx"
	"github.com/shinji-kodama/vbox-guest-additions/internal/logging"
)

// DNF wraps the dnf CLI.
type DNF struct {
	bin  string
	exec execx.Executor
	log  logging.Logger
}

// NewDNF creates a DNF that invokes bin through e.
func NewDNF(bin string, e execx.Executor) *DNF {
	return &DNF{bin: bin, exec: e, log: logging.New("pkgmgr")}
}

// IsInstalled reports whether every named package is installed. A
// non-zero exit from `dnf list installed` means at least one is absent.
func (d *DNF) IsInstalled(ctx context.Context, names ...string) (bool, error) {
	args := append([]string{"list", "installed"}, names...)
	_, err := d.exec.Run(ctx, execx.NewQuery(d.bin, args...))
	if err == nil {
		return true, nil
	}
	if execx.IsExitError(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "query %s", strings.Join(names, " "))
}

// Missing returns the subset of pkgs that is not installed, preserving
// order. Each package is queried on its own so that one absent package
// does not mask the others.
func (d *DNF) Missing(ctx context.Context, pkgs []string) ([]string, error) {
	var missing []string
	for _, p := range pkgs {
		ok, err := d.IsInstalled(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// Install installs pkgs with a single non-interactive transaction.
// It is a no-op for an empty list.
func (d *DNF) Install(ctx context.Context, pkgs ...string) error {
	if len(pkgs) == 0 {
		return nil
	}
	d.log.WithField("packages", strings.Join(pkgs, " ")).Info("Installing packages")

	cmd := execx.NewCommand(d.bin, append([]string{"install", "-y"}, pkgs...)...)
	cmd.Stream = true
	if _, err := d.exec.Run(ctx, cmd); err != nil {
		return errors.Wrap(err, "install packages")
	}
	return nil
}

// KernelRelease returns the running kernel release as printed by `uname -r`.
func (d *DNF) KernelRelease(ctx context.Context) (string, error) {
	res, err := d.exec.Run(ctx, execx.NewQuery("uname", "-r"))
	if err != nil {
		return "", errors.Wrap(err, "read kernel release")
	}
	release := strings.TrimSpace(res.Stdout)
	if release == "" {
		return "", errors.New("uname -r printed nothing")
	}
	return release, nil
}

// KernelHeaderPackages names the devel and headers packages that match
// a kernel release exactly.
func KernelHeaderPackages(release string) []string {
	return []string{"kernel-devel-" + release, "kernel-headers-" + release}
}

// KernelHeadersInstalled reports whether both header packages for
// release are installed.
func (d *DNF) KernelHeadersInstalled(ctx context.Context, release string) (bool, error) {
	return d.IsInstalled(ctx, KernelHeaderPackages(release)...)
}

// InstallKernelHeaders installs the header packages for release.
func (d *DNF) InstallKernelHeaders(ctx context.Context, release string) error {
	return errors.Wrapf(d.Install(ctx, KernelHeaderPackages(release)...), "kernel %s", release)
}

// PruneOldKernels removes every install-only package (kernels and their
// headers) except the newest version of each, and returns what was removed.
// Nothing is removed when dnf reports no surplus versions.
func (d *DNF) PruneOldKernels(ctx context.Context) ([]string, error) {
	res, err := d.exec.Run(ctx, execx.NewQuery(d.bin, "repoquery", "--installonly", "--latest-limit=-1", "-q"))
	if err != nil {
		return nil, errors.Wrap(err, "list old kernels")
	}

	old := strings.Fields(res.Stdout)
	if len(old) == 0 {
		d.log.Debug("No old kernel packages to remove")
		return nil, nil
	}

	d.log.WithField("packages", strings.Join(old, " ")).Info("Removing old kernel packages")
	cmd := execx.NewCommand(d.bin, append([]string{"remove", "-y"}, old...)...)
	cmd.Stream = true
	if _, err := d.exec.Run(ctx, cmd); err != nil {
		return nil, errors.Wrap(err, "remove old kernels")
	}
	return old, nil
}
