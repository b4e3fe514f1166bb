package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDIDX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDIDX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "PREDIDX_CHAIN_RPC_URL")
	setStr(&cfg.Chain.Contract, "PREDIDX_CHAIN_CONTRACT")
	setUint64(&cfg.Chain.StartBlock, "PREDIDX_CHAIN_START_BLOCK")
	setUint64(&cfg.Chain.Confirmations, "PREDIDX_CHAIN_CONFIRMATIONS")
	setDuration(&cfg.Chain.PollInterval, "PREDIDX_CHAIN_POLL_INTERVAL")
	setUint64(&cfg.Chain.MaxBlockSpan, "PREDIDX_CHAIN_MAX_BLOCK_SPAN")

	// ── Database ──
	setStr(&cfg.Database.DSN, "PREDIDX_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "PREDIDX_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "PREDIDX_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PREDIDX_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PREDIDX_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "PREDIDX_DATABASE_USER")
	setStr(&cfg.Database.Password, "PREDIDX_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PREDIDX_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "PREDIDX_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PREDIDX_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PREDIDX_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDIDX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDIDX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDIDX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDIDX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDIDX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDIDX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDIDX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PREDIDX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDIDX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDIDX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDIDX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDIDX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDIDX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDIDX_S3_FORCE_PATH_STYLE")

	// ── Ingest ──
	setBool(&cfg.Ingest.ArchiveEnabled, "PREDIDX_INGEST_ARCHIVE_ENABLED")
	setUint64(&cfg.Ingest.ArchiveRetentionBlocks, "PREDIDX_INGEST_ARCHIVE_RETENTION_BLOCKS")
	setStr(&cfg.Ingest.ArchiveCron, "PREDIDX_INGEST_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PREDIDX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PREDIDX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDIDX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDIDX_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDIDX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDIDX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDIDX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDIDX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDIDX_MODE")
	setStr(&cfg.LogLevel, "PREDIDX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
