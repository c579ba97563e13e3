package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/keylight/pkg/passphrase"
	"github.com/forest6511/keylight/pkg/secure"
	"github.com/forest6511/keylight/pkg/vault"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes a new vault",
	Long: `Initializes a new vault in the data directory.

A recovery passphrase is generated and printed once. Write it down: it is
the key of the vault database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if manager.Exists() {
			return fmt.Errorf("vault already exists at %s", manager.Dir())
		}
		out := cmd.OutOrStdout()
		errOut := cmd.ErrOrStderr()
		scope := secure.NewScope()
		defer scope.Wipe()

		fmt.Fprintln(errOut, "Initializing new vault...")

		// 1. Prompt for master password
		prompt := newPasswordReader(cmd.InOrStdin(), errOut)
		password, err := prompt.Read("Enter master password: ")
		if err != nil {
			return err
		}
		scope.TrackBytes(password)

		// 2. Validate password strength
		result := vault.ValidateMasterPassword(password, cfg.MinPasswordLength)
		if !result.Valid {
			notices.Push(result.Warnings[0])
			return errors.New("password validation failed")
		}
		fmt.Fprintf(errOut, "Password strength: %s\n", result.Strength)
		for _, warning := range result.Warnings {
			fmt.Fprintf(errOut, "Warning: %s\n", warning)
		}

		// 3. Confirm password
		if interactive() {
			confirm, err := prompt.Read("Confirm master password: ")
			if err != nil {
				return err
			}
			scope.TrackBytes(confirm)
			if err := vault.ConfirmPassword(password, confirm); err != nil {
				notices.Push("Passwords do not match")
				return err
			}
		}

		// 4. Generate the recovery passphrase
		recovery, err := passphrase.Generate(passphrase.Options{
			Words:     cfg.Passphrase.Words,
			Separator: cfg.Passphrase.Separator,
		})
		if err != nil {
			return fmt.Errorf("failed to generate recovery passphrase: %w", err)
		}
		scope.Track(recovery)

		fmt.Fprintln(errOut, "Recovery passphrase (write it down, it is shown only once):")
		if err := recovery.Use(func(b []byte) error {
			_, err := out.Write(b)
			return err
		}); err != nil {
			return err
		}
		fmt.Fprintln(out)

		// 5. Create the vault; Create zeroes both slices
		s := manager.NewSession()
		if err := s.Create(cmd.Context(), password, recovery.Bytes()); err != nil {
			return err
		}

		fmt.Fprintf(errOut, "Vault initialized successfully at %s\n", manager.Dir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
