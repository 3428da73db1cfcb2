package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/search"
	"github.com/urfave/cli/v3"
)

// SearchCommand creates the search command
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search events by text and distance",
		ArgsUsage: "[QUERY]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "query",
				Usage: "Search query",
			},
			&cli.StringFlag{
				Name:  "zip",
				Usage: "Zipcode to center the search on",
			},
			&cli.FloatFlag{
				Name:  "radius",
				Usage: "Maximum distance in miles from --zip",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results (0 uses the configured default)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			q := search.Query{
				Text: c.String("query"),
				Zip:  c.String("zip"),
			}
			if q.Text == "" {
				q.Text = c.Args().First()
			}
			if c.IsSet("radius") {
				q.Radius = strconv.FormatFloat(c.Float("radius"), 'f', -1, 64)
			}
			if n := c.Int("limit"); n > 0 {
				q.Limit = strconv.Itoa(n)
			}
			return searchEvents(ctx, c.String("config"), q, c.Bool("json"))
		},
	}
}

// searchEvents runs q through the search pipeline and prints the results
func searchEvents(ctx context.Context, configPath string, q search.Query, asJSON bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
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

	results, err := pipeline.Search(ctx, q)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	if asJSON {
		if results == nil {
			results = []core.EventSummary{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	printResults(q, results)
	return nil
}

func printResults(q search.Query, results []core.EventSummary) {
	title := "Events"
	if q.HasLocation() {
		title = fmt.Sprintf("Events within %s mi of %s", q.Radius, q.Zip)
	}
	fmt.Println(titleStyle.Render(title))

	if len(results) == 0 {
		fmt.Println(noDataStyle.Render("No events found."))
		return
	}

	for _, r := range results {
		fmt.Println(blockStyle.Render(core.FormatSummary(r)))
	}
	fmt.Println(metaStyle.Render(fmt.Sprintf("%d results", len(results))))
}
