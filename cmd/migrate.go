package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rubiojr/volunteer/pkg/db"
	"github.com/rubiojr/volunteer/pkg/storage"
	"github.com/urfave/cli/v3"
)

// MigrateCommand creates the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Show migration status without applying migrations",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return RunMigrations(ctx, c.String("config"), c.Bool("status"))
		},
	}
}

// RunMigrations applies pending migrations to the SQLite database, or only
// reports them when statusOnly is set.
func RunMigrations(ctx context.Context, configPath string, statusOnly bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	switch cfg.Storage.Driver {
	case "", storage.DriverSQLite:
	default:
		fmt.Printf("Storage driver %q has no versioned migrations; its schema is ensured when it is opened.\n", cfg.Storage.Driver)
		return nil
	}

	dbPath := cfg.Storage.Path
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Printf("Database does not exist, will be created on first use: %s\n", dbPath)
		return nil
	}

	// A plain connection: opening through storage would migrate first.
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			fmt.Printf("Warning: failed to close database: %v\n", err)
		}
	}()

	manager := db.NewMigrationManager(conn)

	if statusOnly {
		if err := showMigrationStatus(ctx, manager); err != nil {
			return fmt.Errorf("showing migration status: %w", err)
		}
		fmt.Println("\nMigration status check completed")
		return nil
	}

	n, err := manager.ApplyPendingMigrations(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	fmt.Printf("Applied %d migrations\n", n)
	return nil
}

// showMigrationStatus displays the current migration status
func showMigrationStatus(ctx context.Context, manager *db.MigrationManager) error {
	status, err := manager.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Schema version: %d\n", status.Current())
	fmt.Printf("Applied migrations: %d\n", len(status.Applied))
	for _, migration := range status.Applied {
		appliedTime := "unknown"
		if migration.AppliedAt != nil {
			appliedTime = migration.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  ✓ %03d: %s (applied: %s)\n", migration.Version, migration.Name, appliedTime)
	}

	fmt.Printf("Pending migrations: %d\n", len(status.Pending))
	for _, migration := range status.Pending {
		fmt.Printf("  • %03d: %s\n", migration.Version, migration.Name)
	}

	if len(status.Pending) == 0 {
		fmt.Println("  (none - database is up to date)")
	}

	return nil
}
