// Package main provides the keylight CLI application.
package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forest6511/keylight/internal/config"
	"github.com/forest6511/keylight/internal/logging"
	"github.com/forest6511/keylight/pkg/audit"
	"github.com/forest6511/keylight/pkg/crypto"
	"github.com/forest6511/keylight/pkg/notify"
	"github.com/forest6511/keylight/pkg/vault"
)

var (
	cfgFile  string
	dataDir  string
	logLevel string

	cfg     *config.Config
	logger  logging.Logger
	notices = notify.NewQueue()
	manager *vault.Manager
)

var rootCmd = &cobra.Command{
	Use:   "keylight",
	Short: "keylight is a local password vault",
	Long: `keylight keeps an encrypted password database unlocked by a master password.

The database key is a generated recovery passphrase, sealed in a keyfile
with a key derived from the master password.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	// PersistentPreRunE resolves the configuration and builds the vault
	// manager for every subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = c

		l, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = l

		deriver, err := crypto.NewDeriver(cfg.KDF.Params())
		if err != nil {
			return fmt.Errorf("invalid kdf settings: %w", err)
		}

		manager, err = vault.New(vault.Config{
			Dir:               cfg.DataDir,
			Deriver:           deriver,
			Notices:           notices,
			Logger:            logger,
			Audit:             audit.NewLogger(filepath.Join(cfg.DataDir, vault.AuditDirName)),
			MinPasswordLength: cfg.MinPasswordLength,
			JournalMode:       cfg.JournalMode,
		})
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: user config dir/keylight/keylight.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Vault directory (default: ~/.keylight)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// drainNotices prints every queued vault notice and returns how many there were.
func drainNotices(w io.Writer) int {
	msgs := notices.Drain()
	for _, msg := range msgs {
		fmt.Fprintln(w, msg)
	}
	return len(msgs)
}
