package cli

import (
	"github.com/spf13/cobra"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/interaction"
)

var checkConfigPath string

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate a YAML config and report any errors",
	Long: `Loads and validates an experiment configuration without running
anything. Exits 0 when the configuration is valid, 2 otherwise.`,
	RunE: runCheckConfig,
}

func init() {
	checkConfigCmd.Flags().StringVarP(&checkConfigPath, "config", "c", "", "path to YAML config (required)")
	checkConfigCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	interaction.Status("Validating configuration...")
	if _, err := config.Load(checkConfigPath); err != nil {
		return &codedError{code: 2, err: err}
	}
	interaction.Status("Configuration is valid.")
	return nil
}
