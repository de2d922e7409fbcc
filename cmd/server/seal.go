package main

import (
	"fmt"
	"os"

	"github.com/dukerupert/tuition/internal/crypto"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newSealCmd() *cobra.Command {
	var generateKey bool

	cmd := &cobra.Command{
		Use:   "seal [secret]",
		Short: "Encrypt a billing credential for use in tuition.yaml",
		Long: `Encrypt a provider secret key or webhook secret with ENCRYPTION_KEY.
The output starts with "enc:" and can replace the plaintext value in
tuition.yaml or in STRIPE_SECRET_KEY_* variables.

Use --generate-key to create a new ENCRYPTION_KEY.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if generateKey {
				key, err := crypto.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), crypto.EncodeKeyBase64(key))
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("seal requires the secret to encrypt")
			}

			_ = godotenv.Load()
			key, err := crypto.DecodeKeyBase64(os.Getenv("ENCRYPTION_KEY"))
			if err != nil {
				return fmt.Errorf("ENCRYPTION_KEY: %w", err)
			}
			enc, err := crypto.NewAESEncryptor(key)
			if err != nil {
				return err
			}

			sealed, err := enc.Seal(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&generateKey, "generate-key", false, "print a new random ENCRYPTION_KEY")
	return cmd
}
