package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/rubiojr/volunteer/pkg/api"
	"github.com/rubiojr/volunteer/pkg/config"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/log"
	"github.com/rubiojr/volunteer/pkg/maintenance"
	"github.com/rubiojr/volunteer/pkg/realtime"
	"github.com/rubiojr/volunteer/pkg/search"
	"github.com/rubiojr/volunteer/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the events API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address to listen on (overrides server.listen)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"), c.String("listen"))
		},
	}
}

// serve runs the HTTP API until SIGINT or SIGTERM. SIGHUP and edits to the
// config file reload the search settings and the maintenance schedule.
func serve(ctx context.Context, configPath, listen string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	pipeline, err := search.New(store, geocode.NewResolver(store), cfg.SearchOptions())
	if err != nil {
		return fmt.Errorf("creating search pipeline: %w", err)
	}
	defer pipeline.Release()

	publisher, closePublisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	hub := realtime.NewHub(cfg.Notify.HubBuffer)
	apiServer := api.NewServer(store, pipeline, api.Options{
		Hub:         hub,
		Publisher:   publisher,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Cancelled on shutdown so websocket streams, which Shutdown does not
	// wait for, end too.
	serveCtx, serveCancel := context.WithCancel(ctx)
	defer serveCancel()

	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		ErrorLog:     logger.StdLogger(log.LevelError),
		BaseContext: func(net.Listener) context.Context {
			return serveCtx
		},
	}

	sched, err := startMaintenance(store, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if sched != nil {
			sched.Stop()
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on http://%s", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	fmt.Println("Server started. Press Ctrl+C to stop, send SIGHUP to reload, or modify config file for automatic reload.")

	reload := func(reason string) {
		newCfg, err := loadConfig(configPath)
		if err != nil {
			logger.Errorf("failed to reload configuration (%s): %v", reason, err)
			return
		}
		sched = reloadConfiguration(cfg, newCfg, pipeline, store, sched)
		cfg = newCfg
		logger.Infof("configuration reloaded (%s)", reason)
	}

	// Set up filesystem watcher for config file
	var watchEvents <-chan fsnotify.Event
	var watchErrors <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnf("failed to close config file watcher: %v", err)
			}
		}()

		if err := watcher.Add(configPath); err != nil {
			logger.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			logger.Infof("watching config file for changes: %s", configPath)
		}
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	for {
		select {
		case err, ok := <-serverErr:
			if ok {
				return fmt.Errorf("serving http: %w", err)
			}
			return nil
		case <-ctx.Done():
			return shutdown(httpServer, serveCancel)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Infof("received SIGHUP, reloading configuration")
				reload("SIGHUP")
			case syscall.SIGINT, syscall.SIGTERM:
				fmt.Println("\nShutting down...")
				return shutdown(httpServer, serveCancel)
			}
		case event, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			// Editors often replace the file with an atomic rename.
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)) {
				continue
			}
			logger.Infof("config file changed: %s (event: %s)", event.Name, event.Op.String())

			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(200 * time.Millisecond)

				if _, err := os.Stat(configPath); os.IsNotExist(err) {
					logger.Warnf("config file was removed and not replaced, skipping reload")
					continue
				}
				if err := watcher.Add(configPath); err != nil {
					logger.Warnf("failed to re-add config file to watcher after rename/remove: %v", err)
				}
			} else {
				time.Sleep(100 * time.Millisecond)
			}
			reload("file change")
		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			logger.Warnf("config file watcher error: %v", err)
		}
	}
}

func shutdown(httpServer *http.Server, cancel context.CancelFunc) error {
	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	logger.Infof("server stopped")
	return nil
}

// startMaintenance starts the optimization job when enabled. It returns nil
// when maintenance is disabled.
func startMaintenance(store storage.Store, cfg *config.Config) (*maintenance.Scheduler, error) {
	if !cfg.Maintenance.Enabled {
		return nil, nil
	}
	sched, err := maintenance.New(store, cfg.Maintenance.Schedule)
	if err != nil {
		return nil, err
	}
	if err := sched.Start(); err != nil {
		return nil, err
	}
	return sched, nil
}

// reloadConfiguration applies the parts of newCfg that can change at
// runtime and returns the maintenance scheduler now in effect. Listener,
// storage and notification settings need a restart.
func reloadConfiguration(oldCfg, newCfg *config.Config, pipeline *search.Pipeline, store storage.Store, sched *maintenance.Scheduler) *maintenance.Scheduler {
	pipeline.SetConfig(newCfg.SearchOptions())

	if oldCfg.Server.Listen != newCfg.Server.Listen || oldCfg.StorageOptions() != newCfg.StorageOptions() {
		logger.Warnf("server and storage settings changed; restart to apply them")
	}

	if oldCfg.Maintenance == newCfg.Maintenance {
		return sched
	}
	if sched != nil {
		sched.Stop()
	}
	next, err := startMaintenance(store, newCfg)
	if err != nil {
		logger.Errorf("restarting storage maintenance: %v", err)
		return nil
	}
	return next
}
