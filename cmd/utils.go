package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rubiojr/volunteer/pkg/config"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/notify"
	"github.com/rubiojr/volunteer/pkg/storage"
)

// loadConfig reads .env from the working directory, then the config file.
func loadConfig(configPath string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured backend, creating the SQLite directory if
// needed, and loads the configured zipcode file into it.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	opts := cfg.StorageOptions()
	if opts.Driver == "" || opts.Driver == storage.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	store, err := storage.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	if cfg.Storage.ZipcodesFile != "" {
		n, err := importZipcodes(ctx, store, cfg.Storage.ZipcodesFile)
		if err != nil {
			closeStore(store)
			return nil, err
		}
		logger.Infof("loaded %d zipcodes from %s", n, cfg.Storage.ZipcodesFile)
	}

	return store, nil
}

func importZipcodes(ctx context.Context, store storage.Store, path string) (int, error) {
	records, err := geocode.LoadGeoNamesFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading zipcodes: %w", err)
	}
	n, err := store.ImportZipcodes(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("importing zipcodes: %w", err)
	}
	return n, nil
}

func closeStore(store storage.Store) {
	if err := store.Close(); err != nil {
		fmt.Printf("Warning: failed to close storage: %v\n", err)
	}
}

// openPublisher returns the Kafka publisher when brokers are configured and
// notify.Discard otherwise. The returned close function is never nil.
func openPublisher(cfg *config.Config) (notify.Publisher, func(), error) {
	if len(cfg.Notify.KafkaBrokers) == 0 {
		return notify.Discard{}, func() {}, nil
	}

	kp, err := notify.NewKafkaPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
	if err != nil {
		return nil, nil, fmt.Errorf("creating kafka publisher: %w", err)
	}

	return kp, func() {
		if err := kp.Close(); err != nil {
			fmt.Printf("Warning: failed to close kafka publisher: %v\n", err)
		}
	}, nil
}
