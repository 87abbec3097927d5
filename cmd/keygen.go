package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"custodia/internal/backup"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate or derive an AES-256 encryption key",
	Long: `Generates a random 256-bit encryption key, or derives one from a
passphrase read from the terminal when --passphrase is set. The key is
written to --out with owner-only permissions, or printed hex-encoded
for use in the CUSTODIA_ENCRYPTION_KEY environment variable.`,
	RunE: runKeygen,
}

var (
	keyOutPath    string
	keyPassphrase bool
)

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keyOutPath, "out", "", "write the raw key to this file")
	keygenCmd.Flags().BoolVar(&keyPassphrase, "passphrase", false, "derive the key from a passphrase")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	out := newDisplay()
	keys := backup.NewKeyManager(&backup.EncryptionConfig{})

	var key []byte
	var err error

	if keyPassphrase {
		fmt.Fprint(cmd.OutOrStdout(), "Passphrase: ")
		passphrase, readErr := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if readErr != nil {
			return fmt.Errorf("failed to read passphrase: %w", readErr)
		}
		key, err = keys.DeriveKeyFromPassword(string(passphrase), nil)
	} else {
		key, err = keys.GenerateKey()
	}
	if err != nil {
		return err
	}

	if keyOutPath != "" {
		if err := keys.SaveKeyToFile(key, keyOutPath); err != nil {
			return err
		}
		out.Success(fmt.Sprintf("Key written to %s", keyOutPath))
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
	return nil
}
