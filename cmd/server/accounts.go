package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dukerupert/tuition/internal"
	"github.com/dukerupert/tuition/internal/provider"
	"github.com/spf13/cobra"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List configured billing accounts with masked credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.NewConfig()
			if err != nil {
				return fmt.Errorf("config initialization failed: %w", err)
			}

			validator := provider.NewDefaultValidator()
			registry, err := provider.NewRegistry(cfg.Accounts, provider.MustNewDefaultFactory(validator))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tPROVIDER\tMODE\tAPI KEY\tWEBHOOK SECRET")
			for _, a := range registry.Describe() {
				secret := "missing"
				if a.HasWebhookSecret {
					secret = "set"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Provider, a.Mode, a.APIKey, secret)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if err := registry.Validate(validator); err != nil {
				return fmt.Errorf("invalid billing configuration: %w", err)
			}
			return nil
		},
	}
}
