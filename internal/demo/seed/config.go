package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Path          string
	Name          string
	Customers     int
	Products      int
	Orders        int
	Overwrite     bool
	Upload        bool
	ExportParquet bool
	Seed          int64
}

func DefaultConfig() Config {
	return Config{
		Path:          "northwind.db",
		Name:          "northwind",
		Customers:     len(companies),
		Products:      len(catalogProducts),
		Orders:        800,
		Overwrite:     false,
		Upload:        false,
		ExportParquet: true,
		Seed:          time.Now().UTC().UnixNano(),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "ASKDB_SEED_PATH", &cfg.Path); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_SEED_NAME", &cfg.Name); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_SEED_CUSTOMERS", &cfg.Customers); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_SEED_PRODUCTS", &cfg.Products); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_SEED_ORDERS", &cfg.Orders); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_SEED_OVERWRITE", &cfg.Overwrite); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_SEED_UPLOAD", &cfg.Upload); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_SEED_EXPORT_PARQUET", &cfg.ExportParquet); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "ASKDB_SEED_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.Path) == "" {
		return Config{}, fmt.Errorf("ASKDB_SEED_PATH is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return Config{}, fmt.Errorf("ASKDB_SEED_NAME is required")
	}
	if cfg.Customers <= 0 {
		return Config{}, fmt.Errorf("ASKDB_SEED_CUSTOMERS must be > 0")
	}
	if cfg.Products <= 0 || cfg.Products > len(catalogProducts) {
		return Config{}, fmt.Errorf("ASKDB_SEED_PRODUCTS must be between 1 and %d", len(catalogProducts))
	}
	if cfg.Orders <= 0 {
		return Config{}, fmt.Errorf("ASKDB_SEED_ORDERS must be > 0")
	}

	cfg.Path = strings.TrimSpace(cfg.Path)
	cfg.Name = strings.TrimSpace(cfg.Name)
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
