// Package cli — install.go implements the "vbox-guest-additions install" command.
//
// The command resolves the configuration, then hands over to the
// provisioning pipeline, which runs these steps in order and stops at the
// first failure:
//  1. Check for root privileges
//  2. Install missing build prerequisites
//  3. Install headers for the running kernel (and prune old kernels)
//  4. Download the Guest Additions ISO
//  5. Create the mount point and extraction directory
//  6. Loop-mount the ISO, copy its contents, unmount it
//  7. Run VBoxLinuxAdditions.run
//  8. Clean up and offer to reboot
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/vbox-guest-additions/internal/execx"
	"github.com/shinji-kodama/vbox-guest-additions/internal/model"
	"github.com/shinji-kodama/vbox-guest-additions/internal/provision"
)

// installFlags holds the flag values for the install command.
type installFlags struct {
	version string // -b / --virtual-box-version
	dryRun  bool   // --dry-run
}

// installDeps is the seam between the install command and the host.
// Tests replace it to run the command against a recorder.
var installDeps = struct {
	newExecutor func() execx.Executor
	options     []provision.Option
}{
	newExecutor: func() execx.Executor { return execx.NewOSExecutor() },
}

// NewInstallCommand creates the "install" cobra command.
func NewInstallCommand() *cobra.Command {
	flags := &installFlags{}

	cmd := &cobra.Command{
		Use:   "install [version]",
		Short: "Install the Guest Additions for a VirtualBox version",
		Long: `Install the VirtualBox Guest Additions matching the host's VirtualBox version.

Must be run as root. Paths, the package list and the download URL can be
overridden with --config.

Examples:
  vbox-guest-additions install -b 7.0.14
  vbox-guest-additions install 7.0.14
  vbox-guest-additions install -b 7.0.14 --dry-run
  vbox-guest-additions install -b 7.0.14 --config /etc/vbox-guest-additions.yaml`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := resolveVersion(flags.version, args)
			if err != nil {
				return err
			}
			return runInstall(cmd, version, flags.dryRun)
		},
	}

	cmd.Flags().StringVarP(&flags.version, versionFlag, "b", "", "The version of the VirtualBox host (e.g. 7.0.14)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the commands that would change the host instead of running them")

	return cmd
}

// runInstall builds the provisioner and runs it against the host.
// The reboot question goes to stderr under --json so stdout stays a
// single JSON document.
func runInstall(cmd *cobra.Command, version string, dryRun bool) error {
	cfg, err := resolveConfig(version)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	promptOut := out
	if IsJSONOutput() {
		promptOut = cmd.ErrOrStderr()
	}

	opts := []provision.Option{provision.WithPrompt(cmd.InOrStdin(), promptOut)}
	opts = append(opts, installDeps.options...)
	if dryRun {
		opts = append(opts, provision.WithDryRun())
	}

	p := provision.New(cfg, installDeps.newExecutor(), opts...)
	report, err := p.Run(cmd.Context())
	printInstallResult(out, report)
	if err != nil {
		message := "installation failed"
		if failed, ok := report.Failed(); ok {
			message = fmt.Sprintf("installation failed at step %q", failed.Name)
		}
		return model.WrapCLIError(model.ExitGeneralError, message, err)
	}
	return nil
}

// printInstallResult outputs the run report in text or JSON format.
func printInstallResult(out io.Writer, report *model.RunReport) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}
	printInstallResultText(out, report)
}

// printInstallResultText prints one line per attempted step, then "Done!"
// when every step succeeded.
func printInstallResultText(out io.Writer, report *model.RunReport) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "VirtualBox Guest Additions %s\n", report.Version)
	for _, s := range report.Steps {
		fmt.Fprintf(out, "  %-24s %-8s %s\n", s.Name, s.Status, s.Duration.Round(time.Millisecond))
	}
	if _, failed := report.Failed(); failed {
		return
	}
	if report.DryRun {
		fmt.Fprintln(out, "Dry run, these commands would have run:")
		for _, c := range report.Commands {
			fmt.Fprintf(out, "  %s\n", c)
		}
		return
	}
	if !report.Rebooted {
		fmt.Fprintln(out, "Reboot skipped.")
	}
	fmt.Fprintln(out, "Done!")
}
