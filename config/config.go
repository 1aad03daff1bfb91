package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. TOKENSALE_DATA_DIR.
const EnvPrefix = "TOKENSALE_"

type Config struct {
	ListenAddress   string `toml:"ListenAddress" env:"LISTEN_ADDRESS"`
	MetricsAddress  string `toml:"MetricsAddress" env:"METRICS_ADDRESS"`
	DataDir         string `toml:"DataDir" env:"DATA_DIR"`
	EventLogPath    string `toml:"EventLogPath" env:"EVENT_LOG_PATH"`
	IdempotencyPath string `toml:"IdempotencyPath" env:"IDEMPOTENCY_PATH"`
	Environment     string `toml:"Environment" env:"ENV"`

	Logging   Logging   `toml:"logging" envPrefix:"LOG_"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Telemetry Telemetry `toml:"telemetry" envPrefix:"OTEL_"`
	Pauses    Pauses    `toml:"pauses" envPrefix:"PAUSE_"`
	Quotas    Quotas    `toml:"quotas"`
	Token     Token     `toml:"token"`
	Campaign  Campaign  `toml:"campaign"`
}

// Load loads the configuration from the given path. A missing file is created
// with defaults; the campaign section must still be filled in before the
// configuration validates. TOKENSALE_* environment variables override the
// operational settings read from the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, Default()); err != nil {
			return nil, err
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a configuration populated with the node defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./tokensale-data"
	}
	if strings.TrimSpace(cfg.EventLogPath) == "" {
		cfg.EventLogPath = filepath.Join(cfg.DataDir, "events.db")
	}
	if strings.TrimSpace(cfg.IdempotencyPath) == "" {
		cfg.IdempotencyPath = filepath.Join(cfg.DataDir, "idempotency.db")
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 5
		}
		if cfg.Logging.MaxAgeDays == 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}
	if strings.TrimSpace(cfg.Auth.JWTSecretEnv) == "" {
		cfg.Auth.JWTSecretEnv = "TOKENSALE_JWT_SECRET"
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = "tokensale"
	}
	if strings.TrimSpace(cfg.Auth.Audience) == "" {
		cfg.Auth.Audience = "tokensale-gateway"
	}
	if cfg.Auth.TokenTTLSeconds == 0 {
		cfg.Auth.TokenTTLSeconds = 3600
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
	if cfg.Quotas.Contributions.MaxRequestsPerEpoch > 0 && cfg.Quotas.Contributions.EpochSeconds == 0 {
		cfg.Quotas.Contributions.EpochSeconds = 60
	}
	if strings.TrimSpace(cfg.Token.Name) == "" {
		cfg.Token.Name = "Quantler"
	}
	if strings.TrimSpace(cfg.Token.Symbol) == "" {
		cfg.Token.Symbol = "QUANT"
	}
	if cfg.Token.Decimals == 0 {
		cfg.Token.Decimals = 18
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
