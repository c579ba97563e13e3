package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/keylight/pkg/passphrase"
)

// Passphrase command flags
var (
	passphraseWords     int
	passphraseSeparator string
	passphraseCount     int
)

const maxPassphraseCount = 20

var passphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Generate diceware recovery passphrases",
	Long: `Generate diceware passphrases from the EFF long word list.

Examples:
  # Generate a passphrase with the configured length
  keylight passphrase

  # Generate 3 passphrases of 16 words joined by dots
  keylight passphrase -w 16 -s . -n 3`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := passphrase.Options{
			Words:     cfg.Passphrase.Words,
			Separator: cfg.Passphrase.Separator,
		}
		if cmd.Flags().Changed("words") {
			opts.Words = passphraseWords
		}
		if cmd.Flags().Changed("separator") {
			opts.Separator = passphraseSeparator
		}
		if passphraseCount < 1 || passphraseCount > maxPassphraseCount {
			return fmt.Errorf("count must be between 1 and %d", maxPassphraseCount)
		}

		out := cmd.OutOrStdout()
		for range passphraseCount {
			buf, err := passphrase.Generate(opts)
			if err != nil {
				return err
			}
			_, err = out.Write(buf.Bytes())
			buf.Wipe()
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passphraseCmd)
	passphraseCmd.Flags().IntVarP(&passphraseWords, "words", "w", passphrase.DefaultWords, "Number of words")
	passphraseCmd.Flags().StringVarP(&passphraseSeparator, "separator", "s", passphrase.DefaultSeparator, "Word separator")
	passphraseCmd.Flags().IntVarP(&passphraseCount, "count", "n", 1, "Number of passphrases to generate")
}
