package cmd

import (
	"context"
	"fmt"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geo"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/urfave/cli/v3"
)

// ZipcodesCommand creates the zipcodes command
func ZipcodesCommand() *cli.Command {
	return &cli.Command{
		Name:  "zipcodes",
		Usage: "Manage the postal code reference table",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import a GeoNames postal code dump (.txt or .zip)",
				ArgsUsage: "FILE",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one FILE argument")
					}
					return runZipcodeImport(ctx, c.String("config"), c.Args().First())
				},
			},
			{
				Name:      "lookup",
				Usage:     "Resolve a zipcode to its place and coordinate",
				ArgsUsage: "ZIP",
				Action: func(ctx context.Context, c *cli.Command) error {
					return lookupZipcode(ctx, c.String("config"), c.Args().First())
				},
			},
		},
	}
}

// DistanceCommand creates the distance command
func DistanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "distance",
		Usage:     "Estimate the distance between two zipcodes",
		ArgsUsage: "ZIP1 ZIP2",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("expected two zipcodes")
			}
			return zipcodeDistance(ctx, c.String("config"), c.Args().Get(0), c.Args().Get(1))
		},
	}
}

func runZipcodeImport(ctx context.Context, configPath, path string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// The explicit file is the only one imported.
	cfg.Storage.ZipcodesFile = ""

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	n, err := importZipcodes(ctx, store, path)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %s zipcodes from %s\n", formatNumber(n), path)
	return nil
}

func lookupZipcode(ctx context.Context, configPath, zip string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	record, err := geocode.NewResolver(store).Resolve(ctx, zip)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(record.Zipcode))
	fmt.Printf("  %s\n", core.FormatPlace(record.City, record.State, ""))
	fmt.Println(metaStyle.Render("  " + record.Coordinate.String()))
	return nil
}

func zipcodeDistance(ctx context.Context, configPath, zipA, zipB string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	resolver := geocode.NewResolver(store)
	a, err := resolver.Resolve(ctx, zipA)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", zipA, err)
	}
	b, err := resolver.Resolve(ctx, zipB)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", zipB, err)
	}

	opts := cfg.SearchOptions()
	est := geo.NewEstimator(opts.EarthRadiusKm)
	km := est.Estimate(a.Coordinate, b.Coordinate)

	fmt.Printf("%s -> %s\n", core.FormatPlace(a.City, a.State, a.Zipcode), core.FormatPlace(b.City, b.State, b.Zipcode))
	fmt.Printf("  Estimate:  %.2f km (%.2f mi)\n", km, km*opts.KmToMiles)
	fmt.Println(metaStyle.Render(fmt.Sprintf("  Haversine: %.2f km", geo.Haversine(a.Coordinate, b.Coordinate))))
	return nil
}
