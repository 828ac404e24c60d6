// Package config loads syncer settings from flags, environment, and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the settings shared by the syncer commands.
type Config struct {
	RPCURL       string
	Factory      string
	PostgresDSN  string
	GenesisBlock uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	Concurrency  int
	Journal      string
	LogLevel     string
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Factory == "" {
		return fmt.Errorf("factory address is required")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres dsn is required")
	}
	return nil
}

// Load merges config file, SYNCER_* environment variables, and flags.
// Precedence: flags over env over file over defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNCER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch-size", uint64(5000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("concurrency", 8)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:       v.GetString("rpc"),
		Factory:      v.GetString("factory"),
		PostgresDSN:  v.GetString("pg-dsn"),
		GenesisBlock: v.GetUint64("genesis-block"),
		BatchSize:    v.GetUint64("batch-size"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		Concurrency:  v.GetInt("concurrency"),
		Journal:      v.GetString("journal"),
		LogLevel:     v.GetString("log-level"),
	}

	return cfg, nil
}
