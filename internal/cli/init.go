package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"openbook/internal/config"
)

var force bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long: `Write the default configuration to the --config path so it can be edited.

Examples:
  openbook init                            # Write ./openbook.yaml
  openbook init --config ~/openbook.yaml   # Write somewhere else
  openbook init --force                    # Overwrite an existing file`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", cfgFile)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := config.DefaultConfig().Save(cfgFile); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", cfgFile)
	return nil
}
