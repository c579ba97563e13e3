// Package config loads keylight settings from defaults, an optional YAML
// file, KEYLIGHT_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/keylight/pkg/crypto"
	"github.com/forest6511/keylight/pkg/passphrase"
	"github.com/forest6511/keylight/pkg/store"
)

const (
	// FileName is the config file name without extension.
	FileName = "keylight"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "keylight"

	// MinPasswordLength is the floor for the master password length setting.
	MinPasswordLength = 16
)

// ErrInvalid indicates a configuration value outside its allowed range.
var ErrInvalid = errors.New("config: invalid configuration")

// KDF holds Argon2id costs.
type KDF struct {
	MemoryKiB   uint32 `mapstructure:"memory_kib" yaml:"memory_kib"`
	Iterations  uint32 `mapstructure:"iterations" yaml:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism" yaml:"parallelism"`
}

// Params converts k to crypto parameters.
func (k KDF) Params() crypto.Params {
	return crypto.Params{
		Memory:    k.MemoryKiB,
		Time:      k.Iterations,
		Threads:   k.Parallelism,
		KeyLength: crypto.KeyLength,
	}
}

// Passphrase controls recovery passphrase generation.
type Passphrase struct {
	Words     int    `mapstructure:"words" yaml:"words"`
	Separator string `mapstructure:"separator" yaml:"separator"`
}

// Config is the resolved keylight configuration.
type Config struct {
	DataDir           string     `mapstructure:"data_dir" yaml:"data_dir"`
	LogLevel          string     `mapstructure:"log_level" yaml:"log_level"`
	MinPasswordLength int        `mapstructure:"min_password_length" yaml:"min_password_length"`
	JournalMode       string     `mapstructure:"journal_mode" yaml:"journal_mode"`
	KDF               KDF        `mapstructure:"kdf" yaml:"kdf"`
	Passphrase        Passphrase `mapstructure:"passphrase" yaml:"passphrase"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"data-dir":  "data_dir",
	"log-level": "log_level",
}

// DefaultDataDir returns ~/.keylight.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keylight"
	}
	return filepath.Join(home, ".keylight")
}

// DefaultPath returns the user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: could not get user config directory: %w", err)
	}
	return filepath.Join(dir, "keylight", FileName+".yaml"), nil
}

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	p := crypto.DefaultParams()
	return map[string]any{
		"data_dir":             DefaultDataDir(),
		"log_level":            "warn",
		"min_password_length":  MinPasswordLength,
		"journal_mode":         store.DefaultJournalMode,
		"kdf.memory_kib":       p.Memory,
		"kdf.iterations":       p.Time,
		"kdf.parallelism":      p.Threads,
		"passphrase.words":     passphrase.DefaultWords,
		"passphrase.separator": passphrase.DefaultSeparator,
	}
}

// Load resolves the configuration.
//
// If path is empty the user config directory is searched for keylight.yaml;
// a missing file is not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		if p, err := DefaultPath(); err == nil {
			v.AddConfigPath(filepath.Dir(p))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalid)
	}
	if c.MinPasswordLength < MinPasswordLength {
		return fmt.Errorf("%w: min_password_length must be at least %d", ErrInvalid, MinPasswordLength)
	}
	if !store.ValidJournalMode(c.JournalMode) {
		return fmt.Errorf("%w: journal_mode %q is not a SQLite journal mode", ErrInvalid, c.JournalMode)
	}
	if c.Passphrase.Words < passphrase.MinWords {
		return fmt.Errorf("%w: passphrase.words must be at least %d", ErrInvalid, passphrase.MinWords)
	}
	if c.Passphrase.Separator == "" {
		return fmt.Errorf("%w: passphrase.separator is empty", ErrInvalid)
	}
	if err := c.KDF.Params().Validate(); err != nil {
		return fmt.Errorf("%w: kdf: %w", ErrInvalid, err)
	}
	return nil
}

// Write stores c as YAML at path, creating the directory if needed.
func Write(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: could not create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}
