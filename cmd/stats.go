package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rubiojr/volunteer/pkg/storage"
	"github.com/urfave/cli/v3"
)

// StatsCommand creates the stats command
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show statistics",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print statistics as JSON",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return showStats(ctx, c.String("config"), c.Bool("json"))
		},
	}
}

// showStats displays storage statistics
func showStats(ctx context.Context, configPath string, asJSON bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("getting stats: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	formatStats(stats)
	return nil
}

// formatStats formats storage statistics for display
func formatStats(stats *storage.Stats) {
	title := cases.Title(language.English).String(stats.Driver) + " storage"
	fmt.Println(titleStyle.Render(title))

	fmt.Printf("Events:               %s\n", formatNumber(stats.Events))
	fmt.Printf("Events with location: %s\n", formatNumber(stats.EventsWithLocation))
	fmt.Printf("Zipcodes:             %s\n", formatNumber(stats.Zipcodes))

	if stats.Zipcodes == 0 {
		fmt.Println(noDataStyle.Render("No zipcodes loaded; location searches will fail. Run 'volunteer zipcodes import'."))
	}

	if stats.LastOptimized != nil {
		fmt.Println(metaStyle.Render("Last optimized " + stats.LastOptimized.Local().Format(time.DateTime)))
	} else {
		fmt.Println(metaStyle.Render("Never optimized"))
	}
}
