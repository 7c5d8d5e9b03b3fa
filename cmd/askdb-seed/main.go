package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/duckmesh/askdb/internal/config"
	"github.com/duckmesh/askdb/internal/demo/seed"
	"github.com/duckmesh/askdb/internal/observability"
	s3store "github.com/duckmesh/askdb/internal/storage/s3"
)

func main() {
	seedCfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("askdb-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data := seed.NewGenerator(seedCfg.Seed).Generate(seedCfg.Customers, seedCfg.Products, seedCfg.Orders)
	if err := seed.CreateSQLite(ctx, seedCfg.Path, data, seedCfg.Overwrite); err != nil {
		logger.Error("failed to create demo database", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("demo database created",
		slog.String("path", seedCfg.Path),
		slog.Int64("seed", seedCfg.Seed),
		slog.Int("customers", len(data.Customers)),
		slog.Int("products", len(data.Products)),
		slog.Int("orders", len(data.Orders)),
		slog.Int("order_details", len(data.OrderDetails)),
	)

	if !seedCfg.Upload {
		return
	}

	var exports map[string][]byte
	if seedCfg.ExportParquet {
		exports, err = seed.EncodeParquet(data)
		if err != nil {
			logger.Error("failed to encode parquet exports", slog.Any("error", err))
			os.Exit(1)
		}
	}

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: true,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	publisher := &seed.Publisher{Store: store, Logger: logger}
	published, err := publisher.Publish(ctx, seedCfg.Name, seedCfg.Path, exports)
	if err != nil {
		logger.Error("failed to publish demo database", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("demo database published",
		slog.String("ASKDB_DATABASE_SNAPSHOT_KEY", published.SnapshotKey),
		slog.String("ASKDB_DATABASE_PARQUET_VIEWS", published.ParquetViews),
	)
}
