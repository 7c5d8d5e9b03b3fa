package seed

import "testing"

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Path != "northwind.db" || cfg.Name != "northwind" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Customers != len(companies) || cfg.Products != len(catalogProducts) {
		t.Fatalf("Customers = %d, Products = %d", cfg.Customers, cfg.Products)
	}
	if cfg.Upload || !cfg.ExportParquet {
		t.Fatalf("Upload = %v, ExportParquet = %v", cfg.Upload, cfg.ExportParquet)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"ASKDB_SEED_PATH":           " /tmp/shop.db ",
		"ASKDB_SEED_NAME":           "shop",
		"ASKDB_SEED_CUSTOMERS":      "60",
		"ASKDB_SEED_PRODUCTS":       "12",
		"ASKDB_SEED_ORDERS":         "99",
		"ASKDB_SEED_OVERWRITE":      "true",
		"ASKDB_SEED_UPLOAD":         "true",
		"ASKDB_SEED_EXPORT_PARQUET": "false",
		"ASKDB_SEED_SEED":           "12345",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Path != "/tmp/shop.db" || cfg.Name != "shop" {
		t.Fatalf("Path = %q, Name = %q", cfg.Path, cfg.Name)
	}
	if cfg.Customers != 60 || cfg.Products != 12 || cfg.Orders != 99 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Overwrite || !cfg.Upload || cfg.ExportParquet {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Seed != 12345 {
		t.Fatalf("Seed = %d", cfg.Seed)
	}
}

func TestLoadConfigFromEnvRejectsInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"ASKDB_SEED_PATH": " "},
		{"ASKDB_SEED_CUSTOMERS": "0"},
		{"ASKDB_SEED_PRODUCTS": "500"},
		{"ASKDB_SEED_ORDERS": "many"},
		{"ASKDB_SEED_UPLOAD": "sometimes"},
		{"ASKDB_SEED_SEED": "x"},
	}
	for _, env := range tests {
		if _, err := LoadConfigFromEnv(mapLookup(env)); err == nil {
			t.Fatalf("LoadConfigFromEnv() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
