package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ModeChain = "chain"
	ModeAgent = "agent"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	Pipeline      PipelineConfig
	Resolver      ResolverConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	SnapshotKey     string
	ParquetViews    string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type AIConfig struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	EmbeddingModel    string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
}

type PipelineConfig struct {
	Mode              string
	RowLimit          int
	SampleRows        int
	MaxIterations     int
	ObservationTokens int
	AgentRephrase     bool
}

type ResolverConfig struct {
	Strategy      string
	Columns       string
	MaxCandidates int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "ASKDB_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "ASKDB_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "ASKDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "ASKDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "ASKDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "ASKDB_DATABASE_DRIVER", &cfg.Database.Driver) },
		func() error { return applyString(lookup, "ASKDB_DATABASE_DSN", &cfg.Database.DSN) },
		func() error { return applyString(lookup, "ASKDB_DATABASE_SNAPSHOT_KEY", &cfg.Database.SnapshotKey) },
		func() error { return applyString(lookup, "ASKDB_DATABASE_PARQUET_VIEWS", &cfg.Database.ParquetViews) },
		func() error { return applyInt(lookup, "ASKDB_DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "ASKDB_DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "ASKDB_DATABASE_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "ASKDB_DATABASE_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
		},
		func() error { return applyDuration(lookup, "ASKDB_DATABASE_QUERY_TIMEOUT", &cfg.Database.QueryTimeout) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "ASKDB_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "ASKDB_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error { return applyString(lookup, "ASKDB_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "ASKDB_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "ASKDB_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "ASKDB_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyString(lookup, "ASKDB_AI_EMBEDDING_MODEL", &cfg.AI.EmbeddingModel) },
		func() error { return applyFloat(lookup, "ASKDB_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyInt(lookup, "ASKDB_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error { return applyDuration(lookup, "ASKDB_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyFloat(lookup, "ASKDB_AI_REQUESTS_PER_SECOND", &cfg.AI.RequestsPerSecond) },
		func() error { return applyString(lookup, "ASKDB_PIPELINE_MODE", &cfg.Pipeline.Mode) },
		func() error { return applyInt(lookup, "ASKDB_PIPELINE_ROW_LIMIT", &cfg.Pipeline.RowLimit) },
		func() error { return applyInt(lookup, "ASKDB_PIPELINE_SAMPLE_ROWS", &cfg.Pipeline.SampleRows) },
		func() error { return applyInt(lookup, "ASKDB_PIPELINE_MAX_ITERATIONS", &cfg.Pipeline.MaxIterations) },
		func() error {
			return applyInt(lookup, "ASKDB_PIPELINE_OBSERVATION_TOKENS", &cfg.Pipeline.ObservationTokens)
		},
		func() error { return applyBool(lookup, "ASKDB_PIPELINE_AGENT_REPHRASE", &cfg.Pipeline.AgentRephrase) },
		func() error { return applyString(lookup, "ASKDB_RESOLVER_STRATEGY", &cfg.Resolver.Strategy) },
		func() error { return applyString(lookup, "ASKDB_RESOLVER_COLUMNS", &cfg.Resolver.Columns) },
		func() error { return applyInt(lookup, "ASKDB_RESOLVER_MAX_CANDIDATES", &cfg.Resolver.MaxCandidates) },
		func() error { return applyBool(lookup, "ASKDB_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "ASKDB_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch cfg.Database.Driver {
	case "sqlite", "duckdb", "pgx":
	default:
		return fmt.Errorf("invalid ASKDB_DATABASE_DRIVER: %q", cfg.Database.Driver)
	}
	if cfg.Database.ParquetViews != "" && cfg.Database.Driver != "duckdb" {
		return fmt.Errorf("parquet views require the duckdb driver")
	}
	switch cfg.AI.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("invalid ASKDB_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	switch cfg.Pipeline.Mode {
	case ModeChain, ModeAgent:
	default:
		return fmt.Errorf("invalid ASKDB_PIPELINE_MODE: %q", cfg.Pipeline.Mode)
	}
	if cfg.Pipeline.RowLimit < 0 {
		return fmt.Errorf("ASKDB_PIPELINE_ROW_LIMIT must be >= 0")
	}
	if cfg.Pipeline.MaxIterations <= 0 {
		return fmt.Errorf("ASKDB_PIPELINE_MAX_ITERATIONS must be > 0")
	}
	switch cfg.Resolver.Strategy {
	case "fuzzy", "embedding":
	default:
		return fmt.Errorf("invalid ASKDB_RESOLVER_STRATEGY: %q", cfg.Resolver.Strategy)
	}
	if cfg.Resolver.Strategy == "embedding" && cfg.AI.Provider != "openai" {
		return fmt.Errorf("embedding resolver requires the openai provider")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askdb-api"},
		HTTP: HTTPConfig{
			Address:      ":4000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "database/northwind.db",
			MaxOpenConns:    8,
			MaxIdleConns:    8,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    15 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "askdb",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
		},
		AI: AIConfig{
			Provider:       "openai",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0,
			MaxTokens:      1024,
			Timeout:        60 * time.Second,
		},
		Pipeline: PipelineConfig{
			Mode:              ModeChain,
			RowLimit:          20,
			SampleRows:        3,
			MaxIterations:     10,
			ObservationTokens: 1500,
			AgentRephrase:     true,
		},
		Resolver: ResolverConfig{
			Strategy:      "fuzzy",
			MaxCandidates: 5,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":14000"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
