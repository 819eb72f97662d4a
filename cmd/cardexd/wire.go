package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	minioclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	cardex "github.com/cardexio/cardex"
	"github.com/cardexio/cardex/blobstore"
	minioblob "github.com/cardexio/cardex/blobstore/minio"
	s3blob "github.com/cardexio/cardex/blobstore/s3"
	"github.com/cardexio/cardex/config"
	"github.com/cardexio/cardex/embed"
	"github.com/cardexio/cardex/observability"
	"github.com/cardexio/cardex/price"
	"github.com/cardexio/cardex/wal"
)

func newLogger(cfg config.LogConfig) *cardex.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return cardex.NewJSONLogger(level)
	}
	return cardex.NewTextLogger(level)
}

// openStore wires a configured Cardex instance.
func openStore(ctx context.Context, cfg *config.Config, logger *cardex.Logger) (*cardex.Cardex, error) {
	opts := []cardex.Option{
		cardex.WithDimension(cfg.Store.Dimension),
		cardex.WithCheckpointEvery(cfg.Store.CheckpointEveryN),
		cardex.WithCompression(cfg.Store.Compression),
		cardex.WithLogger(logger),
	}

	if cfg.Store.DisableWAL {
		opts = append(opts, cardex.WithoutWAL())
	} else if cfg.Store.WALSync {
		opts = append(opts, cardex.WithWAL(func(o *wal.Options) {
			o.DurabilityMode = wal.DurabilitySync
		}))
	}

	if cfg.Server.EnableMetrics {
		opts = append(opts, cardex.WithMetricsCollector(observability.NewCollector()))
	}

	images, err := newBlobStore(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	if images != nil {
		opts = append(opts, cardex.WithImageStore(images))
	}

	return cardex.Open(ctx, cfg.Store.DataDir, opts...)
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case "":
		return nil, nil

	case "local":
		return blobstore.NewLocalStore(cfg.LocalDir)

	case "s3":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return s3blob.NewStore(awss3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil

	case "minio":
		client, err := minioclient.New(cfg.Endpoint, &minioclient.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		return minioblob.NewStore(client, cfg.Bucket, cfg.Prefix), nil

	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.Backend)
	}
}

func newEmbedder(cfg config.EmbedderConfig, dimension int) embed.Embedder {
	if cfg.BaseURL == "" {
		return nil
	}
	return embed.NewHTTPEmbedder(cfg.BaseURL, func(o *embed.HTTPOptions) {
		o.HTTPClient.Timeout = cfg.Timeout
		o.Dimension = dimension
	})
}

func newPriceClient(cfg config.PriceConfig) *price.Client {
	if cfg.BaseURL == "" {
		return nil
	}
	return price.NewClient(cfg.BaseURL, func(o *price.Options) {
		o.TTL = cfg.TTL
		o.RequestsPerSecond = cfg.RequestsPerSecond
	})
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return nil, err
	}
	return cfg, nil
}
