// Package cli — plan.go implements the "vbox-guest-additions plan" command.
//
// plan resolves the configuration exactly like install and prints it with
// the ordered step list, without running anything. It needs no privileges.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/vbox-guest-additions/internal/config"
	"github.com/shinji-kodama/vbox-guest-additions/internal/execx"
	"github.com/shinji-kodama/vbox-guest-additions/internal/model"
	"github.com/shinji-kodama/vbox-guest-additions/internal/provision"
)

// NewPlanCommand creates the "plan" cobra command.
func NewPlanCommand() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "plan [version]",
		Short: "Show the resolved configuration and the steps install would run",
		Long: `Show the resolved configuration and the ordered list of steps that
"install" would run for the given version. Nothing is executed.

Examples:
  vbox-guest-additions plan -b 7.0.14
  vbox-guest-additions plan 7.0.14 --config ./vbox.toml --json`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := resolveVersion(version, args)
			if err != nil {
				return err
			}
			return runPlan(cmd.OutOrStdout(), v)
		},
	}

	cmd.Flags().StringVarP(&version, versionFlag, "b", "", "The version of the VirtualBox host (e.g. 7.0.14)")

	return cmd
}

// planStep is the printable form of a pipeline step.
type planStep struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func runPlan(out io.Writer, version string) error {
	cfg, err := resolveConfig(version)
	if err != nil {
		return err
	}

	var steps []planStep
	for _, s := range provision.New(cfg, execx.NewOSExecutor()).Pipeline().Steps() {
		steps = append(steps, planStep{Name: s.Name, Description: s.Description})
	}

	if IsJSONOutput() {
		data, _ := json.MarshalIndent(struct {
			Config *config.Config `json:"config"`
			ISOURL string         `json:"isoUrl"`
			Steps  []planStep     `json:"steps"`
		}{cfg, cfg.ISOURL(), steps}, "", "  ")
		fmt.Fprintln(out, string(data))
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to render configuration", err)
	}
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprint(out, string(data))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Steps:")
	for i, s := range steps {
		fmt.Fprintf(out, "  %2d. %-24s %s\n", i+1, s.Name, s.Description)
	}
	return nil
}
