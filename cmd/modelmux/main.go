package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/allaspectsdev/modelmux/internal/config"
	"github.com/allaspectsdev/modelmux/internal/daemon"
	"github.com/allaspectsdev/modelmux/internal/version"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "modelmux",
		Short: "Route queries across text-generation backends",
		Long: `modelmux analyzes each query, picks the backend best suited to answer it
and falls back to the next-best backend when a call fails or times out.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (TOML or YAML)")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(backendsCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(configExportCmd())
	rootCmd.AddCommand(configImportCmd())
	rootCmd.AddCommand(installServiceCmd())
	rootCmd.AddCommand(uninstallServiceCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func startCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the modelmux daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return daemon.Run(cfg, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "log to the console as well as the log file")
	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			if err := daemon.Stop(); err != nil {
				return err
			}
			fmt.Println("modelmux stopped")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, query totals and backend health",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			return daemon.Status()
		},
	}
}

func installServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install-service",
		Short: "Install modelmux as a user service (launchd or systemd)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := configFile
			if path == "" {
				path = config.ConfigFilePath()
			}
			return daemon.InstallService(path, cfg.Server.DataDir)
		},
	}
}

func uninstallServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall-service",
		Short: "Remove the modelmux user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.UninstallService()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}
}
