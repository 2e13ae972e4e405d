package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/allaspectsdev/modelmux/internal/config"
	"github.com/allaspectsdev/modelmux/internal/vault"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Write a default config and show which keys are missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("modelmux setup")
			fmt.Println("==============")
			fmt.Println()

			path, created, err := config.InitConfig()
			if err != nil {
				return fmt.Errorf("generating config: %w", err)
			}
			reportInit(path, created)

			have := make(map[string]bool)
			for _, p := range vault.New().List() {
				have[p] = true
			}

			var missing []string
			for _, p := range vault.KnownProviders {
				if !have[p] {
					missing = append(missing, p)
				}
			}

			fmt.Println()
			if len(missing) > 0 {
				fmt.Printf("No key found for: %s\n", strings.Join(missing, ", "))
				fmt.Println("Add one with: modelmux keys set <provider>")
				fmt.Println("Backends without a key fail at startup; disable them in the config or add the key.")
			} else {
				fmt.Println("All provider keys are available.")
			}
			fmt.Println()
			fmt.Println("Setup complete. Run 'modelmux start' to begin.")
			return nil
		},
	}
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Generate the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := config.InitConfig()
			if err != nil {
				return fmt.Errorf("generating config: %w", err)
			}
			reportInit(path, created)
			return nil
		},
	}
}

func reportInit(path string, created bool) {
	if created {
		fmt.Printf("Config written to %s\n", path)
	} else {
		fmt.Printf("Config already exists at %s (left unchanged)\n", path)
	}
}

func configExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-export [file]",
		Short: "Export the effective config (TOML, or YAML for .yaml/.yml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "modelmux-export.toml"
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := loadConfig(); err != nil {
				return err
			}
			if err := config.ExportConfig(path); err != nil {
				return fmt.Errorf("exporting config: %w", err)
			}
			fmt.Printf("Config exported to %s\n", path)
			return nil
		},
	}
}

func configImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-import <file>",
		Short: "Validate a config file and make it the active config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			if err := config.ImportConfig(args[0]); err != nil {
				return fmt.Errorf("importing config: %w", err)
			}
			fmt.Printf("Config imported from %s\n", args[0])
			return nil
		},
	}
}
