package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/allaspectsdev/modelmux/internal/vault"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage backend API keys in the OS keychain",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers with a stored or exported key",
		RunE: func(cmd *cobra.Command, args []string) error {
			providers := vault.New().List()
			if len(providers) == 0 {
				fmt.Println("No API keys stored")
				return nil
			}
			for _, p := range providers {
				fmt.Printf("  %s: ****\n", p)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider>",
		Short: "Store a key, read without echo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(args[0])
			fmt.Printf("Enter API key for %s: ", provider)
			key, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			if err := vault.New().Set(provider, strings.TrimSpace(string(key))); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Printf("Key for %s stored. Reference it as key_ref = \"keyring://modelmux/%s\"\n", provider, provider)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(args[0])
			if err := vault.New().Delete(provider); err != nil {
				return fmt.Errorf("deleting key: %w", err)
			}
			fmt.Printf("Key for %s deleted\n", provider)
			return nil
		},
	})

	return cmd
}
