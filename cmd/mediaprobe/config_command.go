package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mediaprobe/pkg/config"
)

func newConfigCommand(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Config file already exists: %s\n", *configPath)
				return nil
			}
			if err := config.GenerateDefault(*configPath); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file generated: %s\n", *configPath)
			return nil
		},
	})

	return configCmd
}

// loadConfigReadOnly loads the config at path, falling back to defaults when
// the file does not exist. Unlike config.Load it never writes a file.
func loadConfigReadOnly(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}
