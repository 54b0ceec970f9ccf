package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/shinji-kodama/vbox-guest-additions/internal/config"
	"github.com/shinji-kodama/vbox-guest-additions/internal/execx"
	"github.com/shinji-kodama/vbox-guest-additions/internal/image"
	"github.com/shinji-kodama/vbox-guest-additions/internal/logging"
	"github.com/shinji-kodama/vbox-guest-additions/internal/model"
	"github.com/shinji-kodama/vbox-guest-additions/internal/pkgmgr"
	"github.com/shinji-kodama/vbox-guest-additions/internal/prompt"
)

// RebootQuestion is asked once the installer has finished.
const RebootQuestion = "The installation is complete. Changes will not take effect until reboot is completed. Would you like to reboot the system now?"

// Provisioner wires the configuration and the host collaborators into the
// installation pipeline.
type Provisioner struct {
	cfg   *config.Config
	exec  execx.Executor
	pkgs  *pkgmgr.DNF
	image *image.Handler

	euid func() int
	in   io.Reader
	out  io.Writer
	log  logging.Logger

	dryRun *execx.DryRun

	rebooted bool
}

// Option customizes a Provisioner.
type Option func(*Provisioner)

// WithEUID overrides how the effective user ID is obtained.
func WithEUID(euid func() int) Option {
	return func(p *Provisioner) { p.euid = euid }
}

// WithPrompt sets where the reboot question is written and answered.
func WithPrompt(in io.Reader, out io.Writer) Option {
	return func(p *Provisioner) {
		p.in = in
		p.out = out
	}
}

// WithDryRun makes the run change nothing on the host: read-only queries
// still execute, every other command is recorded instead, filesystem
// changes are only logged, and the privilege check and reboot prompt are
// skipped.
func WithDryRun() Option {
	return func(p *Provisioner) {
		p.dryRun = execx.NewDryRun(p.exec)
	}
}

// New creates a Provisioner. cfg must already be validated.
func New(cfg *config.Config, e execx.Executor, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:  cfg,
		exec: e,
		euid: os.Geteuid,
		in:   os.Stdin,
		out:  os.Stdout,
		log:  logging.New("provision"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.dryRun != nil {
		p.exec = p.dryRun
	}
	p.pkgs = pkgmgr.NewDNF(cfg.PackageManager, p.exec)
	p.image = image.NewHandler(p.exec, cfg.Downloader)
	if p.dryRun != nil {
		p.image.DryRun()
	}
	return p
}

// Pipeline assembles the installation steps.
func (p *Provisioner) Pipeline() *Pipeline {
	cfg := p.cfg
	return NewPipeline(
		Step{
			Name:        "check-privileges",
			Description: "require an effective UID of 0",
			Kind:        model.KindPrivilege,
			Run:         p.checkPrivileges,
		},
		Step{
			Name:        "install-packages",
			Description: fmt.Sprintf("%s list installed <pkg> for %d packages; one %s install -y for the missing ones", cfg.PackageManager, len(cfg.Packages), cfg.PackageManager),
			Kind:        model.KindPackage,
			Run:         p.installPackages,
		},
		Step{
			Name:        "install-kernel-headers",
			Description: p.kernelHeadersDescription(),
			Kind:        model.KindPackage,
			Run:         p.installKernelHeaders,
		},
		Step{
			Name:        "download-image",
			Description: fmt.Sprintf("delete %s if present; %s -q %s -O %s", cfg.ISOPath(), cfg.Downloader, cfg.ISOURL(), cfg.ISOPath()),
			Kind:        model.KindNetwork,
			Run:         p.downloadImage,
		},
		Step{
			Name:        "create-directories",
			Description: fmt.Sprintf("mkdir -p %s %s", cfg.MountDir, cfg.ExtractDir),
			Kind:        model.KindCommand,
			Run:         p.createDirectories,
		},
		Step{
			Name:        "mount-image",
			Description: fmt.Sprintf("mount -o loop,ro %s %s", cfg.ISOPath(), cfg.MountDir),
			Kind:        model.KindMount,
			Run:         p.mountImage,
		},
		Step{
			Name:        "copy-contents",
			Description: fmt.Sprintf("cp -r %s/. %s", cfg.MountDir, cfg.ExtractDir),
			Kind:        model.KindCommand,
			Run:         p.copyContents,
		},
		Step{
			Name:        "unmount-image",
			Description: fmt.Sprintf("umount %s", cfg.MountDir),
			Kind:        model.KindMount,
			Run:         p.unmountImage,
		},
		Step{
			Name:        "run-installer",
			Description: cfg.InstallerPath(),
			Kind:        model.KindCommand,
			Run:         p.runInstaller,
		},
		Step{
			Name:        "cleanup",
			Description: fmt.Sprintf("remove %s, %s and %s", cfg.MountDir, cfg.ISOPath(), cfg.ExtractDir),
			Kind:        model.KindCommand,
			Run:         p.cleanup,
		},
		Step{
			Name:        "reboot-prompt",
			Description: "ask to reboot; reboot on yes",
			Kind:        model.KindCommand,
			Run:         p.rebootPrompt,
		},
	)
}

// Run executes the pipeline and reports every attempted step.
func (p *Provisioner) Run(ctx context.Context) (*model.RunReport, error) {
	p.log.WithField("version", p.cfg.Version).Info("Installing VirtualBox Guest Additions")

	steps, err := p.Pipeline().Run(ctx)
	report := &model.RunReport{
		Version:  p.cfg.Version,
		Steps:    steps,
		Rebooted: p.rebooted,
	}
	if p.dryRun != nil {
		report.DryRun = true
		report.Commands = p.dryRun.Planned()
	}
	return report, err
}

func (p *Provisioner) kernelHeadersDescription() string {
	desc := fmt.Sprintf("%s list installed kernel-devel-$(uname -r) kernel-headers-$(uname -r); install them if absent", p.cfg.PackageManager)
	if p.cfg.PruneKernels {
		desc += ", then remove old install-only kernel packages"
	}
	return desc
}

func (p *Provisioner) checkPrivileges(context.Context) (model.StepStatus, error) {
	if p.dryRun != nil {
		return model.StatusSkipped, nil
	}
	if uid := p.euid(); uid != 0 {
		return "", errors.Errorf("this program must be run as root (effective uid %d)", uid)
	}
	return model.StatusOK, nil
}

func (p *Provisioner) installPackages(ctx context.Context) (model.StepStatus, error) {
	p.log.Info("Checking for required packages")
	missing, err := p.pkgs.Missing(ctx, p.cfg.Packages)
	if err != nil {
		return "", err
	}
	if len(missing) == 0 {
		return model.StatusSkipped, nil
	}

	p.log.WithField("missing", strings.Join(missing, ", ")).Info("Required packages are missing")
	if err := p.pkgs.Install(ctx, missing...); err != nil {
		return "", err
	}
	return model.StatusOK, nil
}

// installKernelHeaders installs headers for the running kernel and only
// then prunes old kernels, so a host whose headers are already present is
// never touched.
func (p *Provisioner) installKernelHeaders(ctx context.Context) (model.StepStatus, error) {
	p.log.Info("Checking for kernel headers")
	release, err := p.pkgs.KernelRelease(ctx)
	if err != nil {
		return "", err
	}

	ok, err := p.pkgs.KernelHeadersInstalled(ctx, release)
	if err != nil {
		return "", err
	}
	if ok {
		return model.StatusSkipped, nil
	}

	p.log.WithField("kernel", release).Info("Kernel headers not found, installing")
	if err := p.pkgs.InstallKernelHeaders(ctx, release); err != nil {
		return "", err
	}

	if p.cfg.PruneKernels {
		if _, err := p.pkgs.PruneOldKernels(ctx); err != nil {
			return "", err
		}
	}
	return model.StatusOK, nil
}

func (p *Provisioner) downloadImage(ctx context.Context) (model.StepStatus, error) {
	return model.StatusOK, p.image.Fetch(ctx, p.cfg.ISOURL(), p.cfg.ISOPath())
}

func (p *Provisioner) createDirectories(context.Context) (model.StepStatus, error) {
	return model.StatusOK, p.image.PrepareDirs(p.cfg.MountDir, p.cfg.ExtractDir)
}

func (p *Provisioner) mountImage(ctx context.Context) (model.StepStatus, error) {
	return model.StatusOK, p.image.Mount(ctx, p.cfg.ISOPath(), p.cfg.MountDir)
}

func (p *Provisioner) copyContents(ctx context.Context) (model.StepStatus, error) {
	return model.StatusOK, p.image.CopyContents(ctx, p.cfg.MountDir, p.cfg.ExtractDir)
}

func (p *Provisioner) unmountImage(ctx context.Context) (model.StepStatus, error) {
	return model.StatusOK, p.image.Unmount(ctx, p.cfg.MountDir)
}

func (p *Provisioner) runInstaller(ctx context.Context) (model.StepStatus, error) {
	path := p.cfg.InstallerPath()
	if err := p.image.FindInstaller(path); err != nil {
		return "", model.NewStepError("run-installer", model.KindInstallerMissing, err)
	}
	return model.StatusOK, p.image.RunInstaller(ctx, path)
}

func (p *Provisioner) cleanup(context.Context) (model.StepStatus, error) {
	return model.StatusOK, p.image.Cleanup(p.cfg.MountDir, p.cfg.ISOPath(), p.cfg.ExtractDir)
}

func (p *Provisioner) rebootPrompt(ctx context.Context) (model.StepStatus, error) {
	if p.dryRun != nil {
		return model.StatusSkipped, nil
	}
	yes, err := prompt.Confirm(p.in, p.out, RebootQuestion)
	if err != nil {
		return "", err
	}
	if !yes {
		p.log.Info("Reboot skipped")
		return model.StatusSkipped, nil
	}

	p.log.Info("Rebooting the system")
	p.rebooted = true
	if _, err := p.exec.Run(ctx, execx.NewCommand("reboot")); err != nil {
		p.rebooted = false
		return "", errors.Wrap(err, "reboot")
	}
	return model.StatusOK, nil
}
