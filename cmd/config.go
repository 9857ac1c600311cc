package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
	"github.com/londonzade-stack/agent-seller-sub000/internal/vault"
)

// Store backends.
const (
	storeMemory = "memory"
	storeSQLite = "sqlite"
	storeValkey = "valkey"
)

const defaultSQLitePath = "mailagent.db"

// StoreConfig selects and configures the connection store.
type StoreConfig struct {
	// Type is memory, sqlite or valkey.
	Type string

	SQLitePath string
	Valkey     vault.ValkeyConfig
}

// VaultConfig holds everything needed to open the token vault.
type VaultConfig struct {
	Store StoreConfig

	// EncryptionKey is base64, 32 bytes decoded.
	EncryptionKey string

	GoogleClientID     string
	GoogleClientSecret string
}

// addVaultFlags registers the store, encryption and OAuth client flags.
func addVaultFlags(cmd *cobra.Command, cfg *VaultConfig) {
	cmd.Flags().StringVar(&cfg.Store.Type, "store", storeSQLite, "Connection store: memory, sqlite or valkey. Can also use MAILAGENT_STORE env var.")
	cmd.Flags().StringVar(&cfg.Store.SQLitePath, "sqlite-path", defaultSQLitePath, "SQLite database file. Can also use MAILAGENT_SQLITE_PATH env var.")
	cmd.Flags().StringVar(&cfg.Store.Valkey.URL, "valkey-url", "", "Valkey URL (e.g., redis://valkey:6379). Can also use VALKEY_URL env var.")
	cmd.Flags().StringVar(&cfg.Store.Valkey.Password, "valkey-password", "", "Valkey password. Can also use VALKEY_PASSWORD env var.")
	cmd.Flags().IntVar(&cfg.Store.Valkey.DB, "valkey-db", 0, "Valkey database number. Can also use VALKEY_DB env var.")
	cmd.Flags().StringVar(&cfg.Store.Valkey.KeyPrefix, "valkey-key-prefix", vault.DefaultKeyPrefix, "Prefix for Valkey keys. Can also use VALKEY_KEY_PREFIX env var.")
	cmd.Flags().StringVar(&cfg.EncryptionKey, "encryption-key", "", "AES-256 key for tokens at rest (32 bytes, base64). Can also use MAILAGENT_ENCRYPTION_KEY env var. Generate with: openssl rand -base64 32")
	cmd.Flags().StringVar(&cfg.GoogleClientID, "google-client-id", "", "Google OAuth client ID used for token refresh. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&cfg.GoogleClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
}

// loadVaultEnvVars fills unset flags from the environment. Explicit flags
// always win.
func loadVaultEnvVars(cmd *cobra.Command, cfg *VaultConfig) {
	envString(cmd, "store", "MAILAGENT_STORE", &cfg.Store.Type)
	envString(cmd, "sqlite-path", "MAILAGENT_SQLITE_PATH", &cfg.Store.SQLitePath)
	envString(cmd, "valkey-url", "VALKEY_URL", &cfg.Store.Valkey.URL)
	envString(cmd, "valkey-password", "VALKEY_PASSWORD", &cfg.Store.Valkey.Password)
	envString(cmd, "valkey-key-prefix", "VALKEY_KEY_PREFIX", &cfg.Store.Valkey.KeyPrefix)
	envString(cmd, "encryption-key", "MAILAGENT_ENCRYPTION_KEY", &cfg.EncryptionKey)
	envString(cmd, "google-client-id", "GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	envString(cmd, "google-client-secret", "GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret)
	if !cmd.Flags().Changed("valkey-db") {
		cfg.Store.Valkey.DB = getEnvIntOrDefault("VALKEY_DB", cfg.Store.Valkey.DB)
	}
}

func envString(cmd *cobra.Command, flag, env string, dst *string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// openStore opens the configured connection store.
func openStore(ctx context.Context, cfg StoreConfig) (vault.Store, error) {
	switch cfg.Type {
	case storeMemory:
		return vault.NewMemoryStore(), nil
	case storeSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = defaultSQLitePath
		}
		return vault.OpenSQLiteStore(ctx, path)
	case storeValkey:
		if cfg.Valkey.URL == "" {
			return nil, fmt.Errorf("valkey store requires --valkey-url or VALKEY_URL")
		}
		return vault.NewValkeyStore(cfg.Valkey)
	default:
		return nil, fmt.Errorf("unsupported store type: %s (supported: memory, sqlite, valkey)", cfg.Type)
	}
}

// openVault opens the store and builds a vault over it. The returned store
// must be closed by the caller.
func openVault(ctx context.Context, cfg VaultConfig, logger *slog.Logger, metrics *instrumentation.Metrics) (*vault.Vault, vault.Store, error) {
	var enc *vault.Encryption
	if cfg.EncryptionKey != "" {
		key, err := vault.KeyFromBase64(cfg.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		if enc, err = vault.NewEncryption(key); err != nil {
			return nil, nil, err
		}
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	v := vault.New(store, vault.Config{
		OAuth:            vault.GoogleOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, ""),
		Encryption:       enc,
		SerializeRefresh: true,
		Logger:           logger,
		Metrics:          metrics,
	})
	return v, store, nil
}

// AgentConfig holds the turn limits and plan shared by agent-facing commands.
type AgentConfig struct {
	MaxSteps    int
	TurnTimeout time.Duration
	Plan        string
}

func addAgentFlags(cmd *cobra.Command, cfg *AgentConfig) {
	cmd.Flags().IntVar(&cfg.MaxSteps, "max-steps", 100, "Maximum model steps per turn. Can also use MAILAGENT_MAX_STEPS env var.")
	cmd.Flags().DurationVar(&cfg.TurnTimeout, "turn-timeout", 120*time.Second, "Wall-clock limit per turn. Can also use MAILAGENT_TURN_TIMEOUT env var.")
	cmd.Flags().StringVar(&cfg.Plan, "plan", string(tools.PlanFree), "Subscription plan of the mailbox owner: free or pro. Can also use MAILAGENT_PLAN env var.")
}

func loadAgentEnvVars(cmd *cobra.Command, cfg *AgentConfig) {
	if !cmd.Flags().Changed("max-steps") {
		cfg.MaxSteps = getEnvIntOrDefault("MAILAGENT_MAX_STEPS", cfg.MaxSteps)
	}
	if !cmd.Flags().Changed("turn-timeout") {
		cfg.TurnTimeout = getEnvDurationOrDefault("MAILAGENT_TURN_TIMEOUT", cfg.TurnTimeout)
	}
	envString(cmd, "plan", "MAILAGENT_PLAN", &cfg.Plan)
}

func newLogger(debug bool) *slog.Logger {
	logger := logging.NewLogger(os.Stderr, debug)
	slog.SetDefault(logger)
	return logger
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}
