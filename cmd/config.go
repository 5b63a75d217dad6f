package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nedpals/davi-nfc-bridge/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write the default configuration to --config (or the per-user default path).

Examples:
  davi-nfc-bridge config init
  davi-nfc-bridge config init --config=./bridge.yaml --generate-secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.DefaultPath()
			}
			force, _ := cmd.Flags().GetBool("force")
			if config.Exists(path) && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			if generate, _ := cmd.Flags().GetBool("generate-secret"); generate {
				secret, err := generateSecret(16)
				if err != nil {
					return err
				}
				cfg.Server.APISecret = secret
			}

			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			if cfg.Server.APISecret != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "API secret: %s\n", cfg.Server.APISecret)
			}
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
	initCmd.Flags().Bool("generate-secret", false, "Generate a random API secret")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}

// generateSecret returns a random hex secret of n bytes.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
