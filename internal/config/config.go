// Package config holds OPERATOR-LEVEL configuration for a LogMiner-QA
// deployment.
//
// This is infrastructure config set by whoever runs the sanitization
// pipeline, NOT per-record policy. Values come from env vars (LOGMINER_*) or
// a logminer.config.yaml file; a .env file is honored in development.
//
// The hashing secret deserves care: hashed fields are only as confidential as
// the secret. When LOGMINER_HASH_SECRET is unset the engine falls back to a
// fixed default and warns loudly: a deployment misconfiguration, not a
// supported mode.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/chongzixuan-ai/logminer-qa/internal/privacy"
)

// Viper keys. Each maps to an env var with the LOGMINER_ prefix
// (e.g. "hash_secret" reads LOGMINER_HASH_SECRET) and to a YAML field in
// logminer.config.yaml.
const (
	KeyDataDir          = "data_dir"
	KeyHashAlgorithm    = "hash_algorithm"
	KeyHashSecret       = "hash_secret"
	KeySigningKey       = "signing_key"
	KeyTokenPrefix      = "token_prefix"
	KeyTokenSuffix      = "token_suffix"
	KeyTokenStorePath   = "token_store_path"
	KeyPersistBatchSize = "persist_batch_size"
	KeyPatternFile      = "pattern_file"
	KeyPrivacyEpsilon   = "privacy_epsilon"
	KeyPrivacyDelta     = "privacy_delta"
	KeyPrivacyWindowSec = "privacy_window_seconds"
	KeyPrivacyEnabled   = "privacy_enabled"
)

// Defaults. The hashing secret intentionally has a fixed fallback so a
// first-run pipeline works, at the cost of a loud warning.
const (
	DefaultHashAlgorithm = "sha256"
	DefaultHashSecret    = "logminer-default-secret"
	DefaultTokenPrefix   = "[TOKEN_"
	DefaultTokenSuffix   = "]"
	DefaultBatchSize     = 100
)

// Config holds resolved operator-level configuration.
type Config struct {
	DataDir          string
	HashAlgorithm    string
	HashSecret       string // Injected into the field hasher; never logged
	SigningKey       string // HMAC-SHA256 key for audit record signing (>= 32 bytes)
	TokenPrefix      string
	TokenSuffix      string
	TokenStorePath   string // Empty disables token persistence
	PersistBatchSize int
	PatternFile      string // Optional recognizer override YAML
	Privacy          privacy.Config

	usingDefaultSecret     bool
	usingDefaultSigningKey bool
}

// UsingDefaultSecret reports whether the hashing secret fell back to the
// fixed default. Hashed-field confidentiality is weakened in that case.
func (c *Config) UsingDefaultSecret() bool { return c.usingDefaultSecret }

// UsingDefaultSigningKey reports whether the audit signing key was derived
// rather than set explicitly.
func (c *Config) UsingDefaultSigningKey() bool { return c.usingDefaultSigningKey }

// AuditDBPath returns the full path to the audit SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaults logs warnings when secrets were not explicitly configured.
// Warnings are emitted once at startup, not per record.
func (c *Config) WarnIfDefaults() {
	if c.usingDefaultSecret {
		log.Warn().Msg("LOGMINER_HASH_SECRET not set, using the fixed default secret; hashed fields are NOT confidential")
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using derived default LOGMINER_SIGNING_KEY - set via env var or config file for production")
	}
}

func init() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("LOGMINER")
	viper.AutomaticEnv()
	viper.SetConfigName("logminer.config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	// A missing config file is fine; env vars and defaults cover everything.
	_ = viper.ReadInConfig()
	setDefaults()
}

func setDefaults() {
	viper.SetDefault(KeyHashAlgorithm, DefaultHashAlgorithm)
	viper.SetDefault(KeyTokenPrefix, DefaultTokenPrefix)
	viper.SetDefault(KeyTokenSuffix, DefaultTokenSuffix)
	viper.SetDefault(KeyPersistBatchSize, DefaultBatchSize)
	priv := privacy.DefaultConfig()
	viper.SetDefault(KeyPrivacyEpsilon, priv.Epsilon)
	viper.SetDefault(KeyPrivacyDelta, priv.Delta)
	viper.SetDefault(KeyPrivacyWindowSec, priv.WindowSeconds)
	viper.SetDefault(KeyPrivacyEnabled, priv.Enabled)
}

// SetTestDefaults re-applies defaults after viper.Reset() in tests.
func SetTestDefaults() {
	viper.SetEnvPrefix("LOGMINER")
	viper.AutomaticEnv()
	setDefaults()
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:          resolveDataDir(),
		HashAlgorithm:    viper.GetString(KeyHashAlgorithm),
		HashSecret:       viper.GetString(KeyHashSecret),
		SigningKey:       viper.GetString(KeySigningKey),
		TokenPrefix:      viper.GetString(KeyTokenPrefix),
		TokenSuffix:      viper.GetString(KeyTokenSuffix),
		TokenStorePath:   viper.GetString(KeyTokenStorePath),
		PersistBatchSize: viper.GetInt(KeyPersistBatchSize),
		PatternFile:      viper.GetString(KeyPatternFile),
		Privacy: privacy.Config{
			Epsilon:       viper.GetFloat64(KeyPrivacyEpsilon),
			Delta:         viper.GetFloat64(KeyPrivacyDelta),
			WindowSeconds: viper.GetInt(KeyPrivacyWindowSec),
			Enabled:       viper.GetBool(KeyPrivacyEnabled),
		},
	}

	if cfg.HashSecret == "" {
		cfg.HashSecret = DefaultHashSecret
		cfg.usingDefaultSecret = true
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".logminer"
	}
	return filepath.Join(home, ".logminer")
}

// deriveDefaultKey produces a deterministic fallback key from the data
// directory path and a salt. Uses SHA-256 so the full salt always contributes
// to the output regardless of path length. Not cryptographically strong; it
// exists so a zero-config run still signs its audit trail with a
// per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("logminer:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	switch c.HashAlgorithm {
	case "sha256", "sha512", "sha1":
	default:
		return fmt.Errorf("hash_algorithm must be sha256, sha512 or sha1 (got %q)", c.HashAlgorithm)
	}
	if c.PersistBatchSize < 1 {
		return fmt.Errorf("persist_batch_size must be positive (got %d)", c.PersistBatchSize)
	}
	if c.Privacy.Epsilon <= 0 {
		return fmt.Errorf("privacy_epsilon must be > 0 (got %g)", c.Privacy.Epsilon)
	}
	if c.Privacy.WindowSeconds < 1 {
		return fmt.Errorf("privacy_window_seconds must be at least 1 (got %d)", c.Privacy.WindowSeconds)
	}
	return nil
}
