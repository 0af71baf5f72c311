package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP       HTTPConfig
	Redis      RedisConfig
	Graph      GraphConfig
	Providers  ProvidersConfig
	Remittance RemittanceConfig
	Logging    LoggingConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// RedisConfig describes connectivity to the transaction store. An empty Addr
// selects the in-memory store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GraphConfig describes connectivity to the optional analytics graph. An
// empty URI disables the projection.
type GraphConfig struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// ProvidersConfig carries endpoints and credentials for the three external
// providers, plus the shared call timeout.
type ProvidersConfig struct {
	CollectorURL        string
	CollectorAPIKey     string
	CollectorMerchantID string

	ConverterURL    string
	ConverterAPIKey string

	TransmitterURL       string
	TransmitterAPIKey    string
	TransmitterProfileID string

	Timeout time.Duration
}

// RemittanceConfig carries the corridor parameters.
type RemittanceConfig struct {
	SourceCurrency string
	TargetCurrency string
	MinAmount      decimal.Decimal
	MaxAmount      decimal.Decimal
	FeePercent     decimal.Decimal
	RateSource     string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8080
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "text"
	defaultProviderTimeout = 30 * time.Second
	defaultSourceCurrency  = "INR"
	defaultTargetCurrency  = "CAD"
	defaultMinAmount       = "1000"
	defaultMaxAmount       = "100000"
	defaultFeePercent      = "0.5"
	defaultRateSource      = "CONVERTER"
	defaultGraphMaxConns   = 10
)

// Load reads configuration from environment variables, applying defaults. A
// .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTP: HTTPConfig{
			Host:            valueOrDefault("SERVER_HOST", defaultHost),
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseIntWithDefault("REDIS_DB", 0),
		},
		Graph: GraphConfig{
			URI:            os.Getenv("GRAPH_URI"),
			Database:       valueOrDefault("GRAPH_DATABASE", ""),
			Username:       os.Getenv("GRAPH_USERNAME"),
			Password:       os.Getenv("GRAPH_PASSWORD"),
			MaxConnections: parseIntWithDefault("GRAPH_MAX_CONNECTIONS", defaultGraphMaxConns),
		},
		Providers: ProvidersConfig{
			CollectorURL:         os.Getenv("COLLECTOR_URL"),
			CollectorAPIKey:      os.Getenv("COLLECTOR_API_KEY"),
			CollectorMerchantID:  valueOrDefault("COLLECTOR_MERCHANT_ID", "MERCHANT001"),
			ConverterURL:         os.Getenv("CONVERTER_URL"),
			ConverterAPIKey:      os.Getenv("CONVERTER_API_KEY"),
			TransmitterURL:       os.Getenv("TRANSMITTER_URL"),
			TransmitterAPIKey:    os.Getenv("TRANSMITTER_API_KEY"),
			TransmitterProfileID: os.Getenv("TRANSMITTER_PROFILE_ID"),
			Timeout:              defaultProviderTimeout,
		},
		Remittance: RemittanceConfig{
			SourceCurrency: valueOrDefault("REMIT_SOURCE_CURRENCY", defaultSourceCurrency),
			TargetCurrency: valueOrDefault("REMIT_TARGET_CURRENCY", defaultTargetCurrency),
			RateSource:     valueOrDefault("REMIT_RATE_SOURCE", defaultRateSource),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.HTTP.ShutdownTimeout = d
	}

	if v := os.Getenv("PROVIDER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
		}
		cfg.Providers.Timeout = d
	}

	cfg.Remittance.MinAmount, err = parseDecimal("REMIT_MIN_AMOUNT", defaultMinAmount)
	if err != nil {
		return Config{}, err
	}
	cfg.Remittance.MaxAmount, err = parseDecimal("REMIT_MAX_AMOUNT", defaultMaxAmount)
	if err != nil {
		return Config{}, err
	}
	cfg.Remittance.FeePercent, err = parseDecimal("REMIT_FEE_PERCENT", defaultFeePercent)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDecimal(key, fallback string) (decimal.Decimal, error) {
	raw := valueOrDefault(key, fallback)
	val, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
