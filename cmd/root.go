// Package cmd implements the davi-nfc-bridge command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/config"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   buildinfo.Name,
		Short: buildinfo.DisplayName + " - NDEF text records for WebSocket listeners",
		Long: `Davi NFC Bridge decodes NFC Forum text records from discovered tags and
delivers them as "nfcTag" events to WebSocket listeners.

It also works as a standalone codec for text record payloads.`,
		SilenceUsage: true,
		Version:      buildinfo.FullVersion(),
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default "+config.DefaultPath()+")")

	rootCmd.AddCommand(
		newServeCommand(),
		newDecodeCommand(),
		newEncodeCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
// This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig returns the file named by --config, else the default file if it
// exists, else the built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}

	path = config.DefaultPath()
	if !config.Exists(path) {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}
	return cfg, nil
}
