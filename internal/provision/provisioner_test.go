package provision

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/vbox-guest-additions/internal/config"
	"github.com/shinji-kodama/vbox-guest-additions/internal/execx"
	"github.com/shinji-kodama/vbox-guest-additions/internal/execx/exectest"
	"github.com/shinji-kodama/vbox-guest-additions/internal/model"
)

const (
	testVersion = "7.0.14"
	testKernel  = "6.8.9-300.fc40.x86_64"
)

var headersQuery = "dnf list installed kernel-devel-" + testKernel + " kernel-headers-" + testKernel

// fixture bundles a provisioner whose paths live under a temp dir and
// whose commands are answered by a recorder.
type fixture struct {
	cfg *config.Config
	rec *exectest.Recorder
	out *bytes.Buffer
}

// newFixture returns a fixture in which every query succeeds, the
// downloader creates the ISO and the copy produces the installer, so the
// whole pipeline can run without touching the host.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Version = testVersion
	cfg.ISODir = root
	cfg.MountDir = filepath.Join(root, "mnt", "iso")
	cfg.ExtractDir = filepath.Join(root, "VBox_GA")
	require.NoError(t, cfg.Validate())

	rec := exectest.NewRecorder().On("uname -r", exectest.Response{Stdout: testKernel + "\n"})
	rec.OnRun = func(cmd execx.Command) {
		switch cmd.Name {
		case "wget":
			require.NoError(t, os.WriteFile(cfg.ISOPath(), []byte("iso"), 0o644))
		case "cp":
			require.NoError(t, os.WriteFile(cfg.InstallerPath(), []byte("#!/bin/sh\n"), 0o755))
		}
	}

	return &fixture{cfg: cfg, rec: rec, out: &bytes.Buffer{}}
}

func (f *fixture) run(t *testing.T, answer string, euid int) (*model.RunReport, error) {
	t.Helper()
	p := New(f.cfg, f.rec,
		WithEUID(func() int { return euid }),
		WithPrompt(strings.NewReader(answer), f.out),
	)
	return p.Run(context.Background())
}

func statuses(report *model.RunReport) map[string]model.StepStatus {
	m := make(map[string]model.StepStatus, len(report.Steps))
	for _, s := range report.Steps {
		m[s.Name] = s.Status
	}
	return m
}

// TestRun_EndToEnd covers the happy path: everything already installed,
// headers present, reboot declined.
func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)

	report, err := f.run(t, "n\n", 0)
	require.NoError(t, err)

	assert.Empty(t, f.rec.Matching("dnf install"), "no install when everything is present")
	assert.Empty(t, f.rec.Matching("dnf repoquery"), "no prune when headers are present")
	assert.Empty(t, f.rec.Matching("reboot"))

	iso := filepath.Join(f.cfg.ISODir, "VBoxGuestAdditions_7.0.14.iso")
	tail := f.rec.Lines()[len(f.cfg.Packages)+2:]
	assert.Equal(t, []string{
		"wget -q https://download.virtualbox.org/virtualbox/7.0.14/VBoxGuestAdditions_7.0.14.iso -O " + iso,
		"mount -o loop,ro " + iso + " " + f.cfg.MountDir,
		"cp -r " + f.cfg.MountDir + "/. " + f.cfg.ExtractDir,
		"umount " + f.cfg.MountDir,
		f.cfg.InstallerPath(),
	}, tail)

	assert.NoFileExists(t, iso)
	assert.NoDirExists(t, f.cfg.MountDir)
	assert.NoDirExists(t, f.cfg.ExtractDir)

	require.Len(t, report.Steps, 11)
	st := statuses(report)
	assert.Equal(t, model.StatusSkipped, st["install-packages"])
	assert.Equal(t, model.StatusSkipped, st["install-kernel-headers"])
	assert.Equal(t, model.StatusOK, st["run-installer"])
	assert.Equal(t, model.StatusSkipped, st["reboot-prompt"])
	assert.False(t, report.Rebooted)
	assert.Contains(t, f.out.String(), "Would you like to reboot the system now? (y/n): ")
}

func TestRun_NotRoot(t *testing.T) {
	f := newFixture(t)

	report, err := f.run(t, "", 1000)
	require.Error(t, err)
	assert.Equal(t, model.KindPrivilege, model.KindOf(err))
	assert.Empty(t, f.rec.Calls, "nothing runs before the privilege check")
	assert.Len(t, report.Steps, 1)
}

// TestRun_MissingPackagesBatched checks that any subset of missing
// packages is installed with exactly one command naming that subset.
func TestRun_MissingPackagesBatched(t *testing.T) {
	f := newFixture(t)
	f.rec.Fail("dnf list installed flex").Fail("dnf list installed zlib-devel")

	_, err := f.run(t, "n\n", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"dnf install -y flex zlib-devel"}, f.rec.Matching("dnf install"))
}

func TestRun_PackageInstallFails(t *testing.T) {
	f := newFixture(t)
	f.rec.Fail("dnf list installed gcc").Fail("dnf install -y gcc")

	report, err := f.run(t, "n\n", 0)
	require.Error(t, err)
	assert.Equal(t, model.KindPackage, model.KindOf(err))
	assert.Empty(t, f.rec.Matching("wget"))
	assert.Equal(t, model.StatusFailed, report.Steps[len(report.Steps)-1].Status)
}

// TestRun_KernelHeadersMissing verifies install then prune when the
// running kernel's headers are absent.
func TestRun_KernelHeadersMissing(t *testing.T) {
	f := newFixture(t)
	f.rec.Fail(headersQuery).On("dnf repoquery --installonly --latest-limit=-1 -q", exectest.Response{
		Stdout: "kernel-core-6.7.1-200.fc40.x86_64\n",
	})

	report, err := f.run(t, "n\n", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"dnf install -y kernel-devel-" + testKernel + " kernel-headers-" + testKernel,
	}, f.rec.Matching("dnf install"))
	assert.Equal(t, []string{"dnf remove -y kernel-core-6.7.1-200.fc40.x86_64"}, f.rec.Matching("dnf remove"))
	assert.Equal(t, model.StatusOK, statuses(report)["install-kernel-headers"])
}

func TestRun_KernelPruneDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.PruneKernels = false
	f.rec.Fail(headersQuery)

	_, err := f.run(t, "n\n", 0)
	require.NoError(t, err)
	assert.Len(t, f.rec.Matching("dnf install"), 1)
	assert.Empty(t, f.rec.Matching("dnf repoquery"))
}

func TestRun_ExistingISOReplaced(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.cfg.ISOPath(), []byte("stale"), 0o644))

	prev := f.rec.OnRun
	var staleAtFetch bool
	f.rec.OnRun = func(cmd execx.Command) {
		if cmd.Name == "wget" {
			_, err := os.Stat(f.cfg.ISOPath())
			staleAtFetch = err == nil
		}
		prev(cmd)
	}

	_, err := f.run(t, "n\n", 0)
	require.NoError(t, err)
	assert.False(t, staleAtFetch)
}

func TestRun_DownloadFails(t *testing.T) {
	f := newFixture(t)
	f.rec.On("wget -q "+f.cfg.ISOURL()+" -O "+f.cfg.ISOPath(), exectest.Response{ExitCode: 8})
	f.rec.OnRun = nil

	_, err := f.run(t, "n\n", 0)
	require.Error(t, err)
	assert.Equal(t, model.KindNetwork, model.KindOf(err))
	assert.Empty(t, f.rec.Matching("mount"))
}

// TestRun_CopyFailureLeavesState confirms there is no cleanup on failure.
// A failed copy is a plain command failure, not a mount failure.
func TestRun_CopyFailureLeavesState(t *testing.T) {
	f := newFixture(t)
	f.rec.Fail("cp -r " + f.cfg.MountDir + "/. " + f.cfg.ExtractDir)

	_, err := f.run(t, "n\n", 0)
	require.Error(t, err)
	assert.Equal(t, model.KindCommand, model.KindOf(err))
	assert.Empty(t, f.rec.Matching("umount"), "a failed copy leaves the ISO mounted")
	assert.FileExists(t, f.cfg.ISOPath())
	assert.DirExists(t, f.cfg.MountDir)
}

func TestRun_MountFails(t *testing.T) {
	f := newFixture(t)
	f.rec.Fail("mount -o loop,ro " + f.cfg.ISOPath() + " " + f.cfg.MountDir)

	_, err := f.run(t, "n\n", 0)
	require.Error(t, err)
	assert.Equal(t, model.KindMount, model.KindOf(err))
	assert.Empty(t, f.rec.Matching("cp "))
}

func TestRun_InstallerMissing(t *testing.T) {
	f := newFixture(t)
	f.rec.OnRun = func(cmd execx.Command) {
		if cmd.Name == "wget" {
			require.NoError(t, os.WriteFile(f.cfg.ISOPath(), []byte("iso"), 0o644))
		}
	}

	report, err := f.run(t, "n\n", 0)
	require.Error(t, err)
	assert.Equal(t, model.KindInstallerMissing, model.KindOf(err))
	for _, line := range f.rec.Lines() {
		assert.NotEqual(t, f.cfg.InstallerPath(), line, "installer must not be executed")
	}
	failed, ok := report.Failed()
	require.True(t, ok)
	assert.Equal(t, "run-installer", failed.Name)
}

func TestRun_InstallerFails(t *testing.T) {
	f := newFixture(t)
	f.rec.Fail(f.cfg.InstallerPath())

	_, err := f.run(t, "n\n", 0)
	require.Error(t, err)
	assert.Equal(t, model.KindCommand, model.KindOf(err))
	assert.FileExists(t, f.cfg.ISOPath(), "cleanup only runs after a successful install")
}

func TestRun_RebootAccepted(t *testing.T) {
	f := newFixture(t)

	report, err := f.run(t, "y\n", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"reboot"}, f.rec.Matching("reboot"))
	assert.True(t, report.Rebooted)
}

func TestRun_RebootFails(t *testing.T) {
	f := newFixture(t)
	f.rec.Fail("reboot")

	report, err := f.run(t, "yes\n", 0)
	require.Error(t, err)
	assert.False(t, report.Rebooted)
}

func TestPipeline_StepOrder(t *testing.T) {
	f := newFixture(t)
	var names []string
	for _, s := range New(f.cfg, f.rec).Pipeline().Steps() {
		names = append(names, s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
	}
	assert.Equal(t, []string{
		"check-privileges",
		"install-packages",
		"install-kernel-headers",
		"download-image",
		"create-directories",
		"mount-image",
		"copy-contents",
		"unmount-image",
		"run-installer",
		"cleanup",
		"reboot-prompt",
	}, names)
}

// TestRun_DryRun checks that a dry run as an unprivileged user only issues
// read-only queries, reports the mutating commands, and touches no files.
func TestRun_DryRun(t *testing.T) {
	f := newFixture(t)
	f.rec.OnRun = nil
	f.rec.Fail("dnf list installed gcc").Fail(headersQuery)

	p := New(f.cfg, f.rec,
		WithEUID(func() int { return 1000 }),
		WithPrompt(strings.NewReader("y\n"), f.out),
		WithDryRun(),
	)
	report, err := p.Run(context.Background())
	require.NoError(t, err)

	for _, c := range f.rec.Calls {
		assert.True(t, c.ReadOnly, "%s reached the host", c.String())
	}
	assert.True(t, report.DryRun)
	assert.Equal(t, []string{
		"dnf install -y gcc",
		"dnf install -y kernel-devel-" + testKernel + " kernel-headers-" + testKernel,
		"wget -q " + f.cfg.ISOURL() + " -O " + f.cfg.ISOPath(),
		"mount -o loop,ro " + f.cfg.ISOPath() + " " + f.cfg.MountDir,
		"cp -r " + f.cfg.MountDir + "/. " + f.cfg.ExtractDir,
		"umount " + f.cfg.MountDir,
		f.cfg.InstallerPath(),
	}, report.Commands)

	st := statuses(report)
	assert.Equal(t, model.StatusSkipped, st["check-privileges"])
	assert.Equal(t, model.StatusSkipped, st["reboot-prompt"])
	assert.False(t, report.Rebooted)
	assert.Empty(t, f.out.String(), "no prompt in a dry run")
	assert.NoDirExists(t, f.cfg.MountDir)
	assert.NoDirExists(t, f.cfg.ExtractDir)
}
