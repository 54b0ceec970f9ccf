// Package cli implements the cobra-based CLI commands for vbox-guest-additions.
//
// Each subcommand (install, plan) is defined in its own file within this
// package. This file defines the root command that serves as the parent for
// all subcommands and handles global flags.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/vbox-guest-additions/internal/config"
	"github.com/shinji-kodama/vbox-guest-additions/internal/logging"
	"github.com/shinji-kodama/vbox-guest-additions/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput switches errors, the run report and the plan to JSON,
	// and makes the logger emit JSON lines.
	jsonOutput bool

	// verbose lowers the log level to debug, which logs every external
	// command with its duration.
	verbose bool

	// configPath points at an optional YAML, JSON/JSONC or TOML file
	// overriding the built-in defaults.
	configPath string
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action. It provides help
// text and global flags, and configures logging before any subcommand runs.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vbox-guest-additions",
		Short: "Install VirtualBox Guest Additions on an RPM-based guest",
		Long: `vbox-guest-additions installs the VirtualBox Guest Additions inside a
Linux guest. It installs the build prerequisites and the headers of the
running kernel with dnf, downloads the Guest Additions ISO for the requested
VirtualBox version, loop-mounts it, runs VBoxLinuxAdditions.run from a copy
of its contents, cleans up and offers to reboot.

Every step must succeed; the first failure stops the run.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (.yaml, .json, .jsonc or .toml)")

	rootCmd.AddCommand(NewInstallCommand())
	rootCmd.AddCommand(NewPlanCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// SIGINT and SIGTERM cancel the command's context, which kills the
// external command currently running. CLIError types carry their own
// exit codes; other errors default to exit code 1.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if cliErr, ok := err.(*model.CLIError); ok {
			printError(cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		// Generic error (including cobra usage errors) — exit with code 1.
		printError(err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

func setupLogging() error {
	level := "info"
	if verbose {
		level = "debug"
	}
	if err := logging.Set(logging.Level(level)); err != nil {
		return err
	}
	if jsonOutput {
		return logging.Set(logging.JSON())
	}
	return nil
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
				errMap["kind"] = model.KindOf(underlying).String()
			}
		}
		// stdout is reserved for successful command output, so errors go
		// to stderr even in JSON mode.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		if underlying != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", message)
		}
	}
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// resolveConfig loads the --config file (or the defaults), applies the
// requested version and validates the result.
func resolveConfig(version string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to load configuration",
			model.NewStepError("load-config", model.KindConfig, err))
	}
	if version != "" {
		cfg.Version = version
	}
	if cfg.Version == "" {
		return nil, model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("a VirtualBox version is required (--%s <version>)", versionFlag))
	}
	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "invalid configuration",
			model.NewStepError("load-config", model.KindConfig, err))
	}
	return cfg, nil
}

// versionFlag is the flag name shared by install and plan.
const versionFlag = "virtual-box-version"

// resolveVersion picks the version from the -b flag or the single
// positional argument. Giving two different versions is an error. An
// empty result is allowed here; the config file may supply it and
// Validate rejects it otherwise.
func resolveVersion(flagValue string, args []string) (string, error) {
	var positional string
	if len(args) > 0 {
		positional = args[0]
	}
	switch {
	case flagValue != "" && positional != "" && flagValue != positional:
		return "", model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("conflicting versions: --%s=%s and argument %s", versionFlag, flagValue, positional))
	case flagValue != "":
		return flagValue, nil
	default:
		return positional, nil
	}
}
