package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pyq",
		Short:        "Canonicalize, validate, enrich and upload previous-year exam questions",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print the stage report as JSON")
	cmd.AddCommand(NewCanonicalizeCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewApplyKeyCmd())
	cmd.AddCommand(NewPatchCmd())
	cmd.AddCommand(NewRenumberCmd())
	cmd.AddCommand(NewDedupeCmd())
	cmd.AddCommand(NewEnrichCmd())
	cmd.AddCommand(NewUploadCmd())
	cmd.AddCommand(NewMigrateCmd(&configPath))
	return cmd
}
