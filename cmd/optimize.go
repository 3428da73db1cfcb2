package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rubiojr/volunteer/pkg/maintenance"
	"github.com/rubiojr/volunteer/pkg/storage"
	"github.com/urfave/cli/v3"
)

// OptimizeCommand creates the optimize command
func OptimizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "optimize",
		Usage: "Run storage maintenance (index merge, planner statistics)",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "vacuum",
				Usage: "Also VACUUM the SQLite database file",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return optimizeStorage(ctx, c.String("config"), c.Bool("vacuum"))
		},
	}
}

func optimizeStorage(ctx context.Context, configPath string, vacuum bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	// Same code path as the scheduled job in serve.
	sched, err := maintenance.New(store, "")
	if err != nil {
		return err
	}

	start := time.Now()
	if err := sched.RunOnce(ctx); err != nil {
		return err
	}
	fmt.Printf("Optimized %s storage in %s\n", cfg.Storage.Driver, time.Since(start).Round(time.Millisecond))

	if !vacuum {
		return nil
	}

	sqlite, ok := store.(*storage.SQLiteStore)
	if !ok {
		fmt.Println(noDataStyle.Render("VACUUM only applies to sqlite storage, skipped."))
		return nil
	}
	start = time.Now()
	if err := sqlite.Vacuum(ctx); err != nil {
		return fmt.Errorf("vacuuming database: %w", err)
	}
	fmt.Printf("Vacuumed %s in %s\n", sqlite.Path(), time.Since(start).Round(time.Millisecond))
	return nil
}
