package image

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/shinji-kodama/vbox-guest-additions/internal/execx"
	"github.com/shinji-kodama/vbox-guest-additions/internal/logging"
)

// ErrInstallerNotFound is returned by FindInstaller when the vendor
// installer is absent or not a regular file.
var ErrInstallerNotFound = errors.New("installer not found")

// Handler performs the ISO lifecycle operations.
type Handler struct {
	exec       execx.Executor
	downloader string
	dryRun     bool
	log        logging.Logger
}

// NewHandler creates a Handler that downloads with the given
// wget-compatible binary.
func NewHandler(e execx.Executor, downloader string) *Handler {
	return &Handler{exec: e, downloader: downloader, log: logging.New("image")}
}

// DryRun makes the Handler log filesystem changes instead of making them
// and assume the installer is present. Commands still go through the
// executor, which is expected to be an execx.DryRun.
func (h *Handler) DryRun() *Handler {
	h.dryRun = true
	return h
}

// Fetch downloads url to dest. An existing file at dest is deleted first
// so a stale or truncated ISO from an earlier run is never reused.
func (h *Handler) Fetch(ctx context.Context, url, dest string) error {
	if _, err := os.Lstat(dest); err == nil {
		switch {
		case h.dryRun:
			h.log.WithField("path", dest).Info("ISO exists, would delete")
		default:
			h.log.WithField("path", dest).Info("ISO exists, deleting")
			if err := os.Remove(dest); err != nil {
				return errors.Wrap(err, "remove stale ISO")
			}
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "stat ISO")
	}

	h.log.WithField("url", url).Info("Downloading ISO")
	if _, err := h.exec.Run(ctx, execx.NewCommand(h.downloader, "-q", url, "-O", dest)); err != nil {
		return errors.Wrapf(err, "download %s", url)
	}
	return nil
}

// PrepareDirs creates the mount point and the extraction directory.
// Existing directories are left as they are.
func (h *Handler) PrepareDirs(mountDir, extractDir string) error {
	for _, dir := range []string{mountDir, extractDir} {
		if h.dryRun {
			h.log.WithField("path", dir).Info("Would create directory")
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return nil
}

// Mount attaches iso read-only at dir through a loop device.
func (h *Handler) Mount(ctx context.Context, iso, dir string) error {
	h.log.WithField("mountpoint", dir).Info("Mounting ISO")
	if _, err := h.exec.Run(ctx, execx.NewCommand("mount", "-o", "loop,ro", iso, dir)); err != nil {
		return errors.Wrapf(err, "mount %s", iso)
	}
	return nil
}

// CopyContents recursively copies everything under src, hidden entries
// included, into dst.
func (h *Handler) CopyContents(ctx context.Context, src, dst string) error {
	h.log.WithField("target", dst).Info("Copying ISO contents")
	// "src/." copies the directory's contents rather than the directory itself.
	if _, err := h.exec.Run(ctx, execx.NewCommand("cp", "-r", src+string(filepath.Separator)+".", dst)); err != nil {
		return errors.Wrapf(err, "copy %s", src)
	}
	return nil
}

// Unmount detaches the filesystem mounted at dir.
func (h *Handler) Unmount(ctx context.Context, dir string) error {
	h.log.WithField("mountpoint", dir).Info("Unmounting ISO")
	if _, err := h.exec.Run(ctx, execx.NewCommand("umount", dir)); err != nil {
		return errors.Wrapf(err, "unmount %s", dir)
	}
	return nil
}

// FindInstaller checks that path is a regular file.
func (h *Handler) FindInstaller(path string) error {
	if h.dryRun {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrInstallerNotFound, path)
		}
		return errors.Wrapf(err, "stat %s", path)
	}
	if !info.Mode().IsRegular() {
		return errors.Wrapf(ErrInstallerNotFound, "%s is not a regular file", path)
	}
	return nil
}

// RunInstaller executes the installer at path with no arguments,
// streaming its output to the terminal.
func (h *Handler) RunInstaller(ctx context.Context, path string) error {
	h.log.WithField("installer", path).Info("Running installer")
	cmd := execx.NewCommand(path)
	cmd.Stream = true
	if _, err := h.exec.Run(ctx, cmd); err != nil {
		return errors.Wrap(err, "run installer")
	}
	return nil
}

// Cleanup removes the (empty) mount point, the ISO file and the
// extraction tree, in that order, stopping at the first failure.
func (h *Handler) Cleanup(mountDir, iso, extractDir string) error {
	h.log.Info("Cleaning up")
	if h.dryRun {
		h.log.WithField("paths", []string{mountDir, iso, extractDir}).Info("Would remove")
		return nil
	}
	if err := os.Remove(mountDir); err != nil {
		return errors.Wrap(err, "remove mount point")
	}
	if err := os.Remove(iso); err != nil {
		return errors.Wrap(err, "remove ISO")
	}
	if err := os.RemoveAll(extractDir); err != nil {
		return errors.Wrap(err, "remove extracted files")
	}
	return nil
}
