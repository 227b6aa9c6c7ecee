package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges an optional TOML file at path over Defaults, then applies
// GASFUT_* overrides, including any set by a .env file in the working
// directory. An empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "GASFUT_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "GASFUT_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "GASFUT_POSTGRES_MAX_IDLE_CONNS")
	setStr(&cfg.Postgres.MigrationsDir, "GASFUT_MIGRATIONS_DIR")
	setBool(&cfg.Postgres.RunMigrations, "GASFUT_RUN_MIGRATIONS")

	setStr(&cfg.NATS.URL, "GASFUT_NATS_URL")
	setBool(&cfg.NATS.Enabled, "GASFUT_NATS_ENABLED")

	setStr(&cfg.Redis.Addr, "GASFUT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GASFUT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GASFUT_REDIS_DB")
	setBool(&cfg.Redis.Enabled, "GASFUT_REDIS_ENABLED")

	setStr(&cfg.Server.GRPCAddr, "GASFUT_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "GASFUT_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "GASFUT_METRICS_ADDR")
	setFloat64(&cfg.Server.RateLimitRPS, "GASFUT_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateBurst, "GASFUT_RATE_BURST")

	setInt(&cfg.Engine.PersistChanSize, "GASFUT_PERSIST_CHAN_SIZE")
	setInt(&cfg.Engine.PublishChanSize, "GASFUT_PUBLISH_CHAN_SIZE")
	setInt(&cfg.Engine.InboundChanSize, "GASFUT_INBOUND_CHAN_SIZE")
	setInt(&cfg.Engine.PersistBatchSize, "GASFUT_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Engine.PersistFlushTimeout, "GASFUT_PERSIST_FLUSH_TIMEOUT")
	setInt(&cfg.Engine.DedupCapacity, "GASFUT_DEDUP_CAPACITY")
	setDuration(&cfg.Engine.SnapshotInterval, "GASFUT_SNAPSHOT_INTERVAL")

	setDuration(&cfg.Listing.Cooldown, "GASFUT_LISTING_COOLDOWN")

	setStr(&cfg.LogLevel, "GASFUT_LOG_LEVEL")
}

// Each helper mutates the target only when the variable is set and parses.

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
