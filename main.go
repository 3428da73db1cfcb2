package main

import (
	"context"
	"log"
	"os"

	"github.com/rubiojr/volunteer/cmd"
	"github.com/rubiojr/volunteer/pkg/config"
	vlog "github.com/rubiojr/volunteer/pkg/log"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "volunteer",
		Usage: "Volunteering events API with location-aware search",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
				Value: false,
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file path",
				Value: getDefaultConfigPathOrExit(),
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// VOLUNTEER_DEBUG takes a comma separated list of services, or "all".
			vlog.EnableDebugList(os.Getenv("VOLUNTEER_DEBUG"))
			if c.Bool("debug") {
				vlog.SetGlobalDebug(true)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmd.InitCommand(),
			cmd.ServeCommand(),
			cmd.SearchCommand(),
			cmd.EventsCommand(),
			cmd.ZipcodesCommand(),
			cmd.DistanceCommand(),
			cmd.StatsCommand(),
			cmd.OptimizeCommand(),
			cmd.MigrateCommand(),
			cmd.VersionCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func getDefaultConfigPathOrExit() string {
	path, err := config.GetDefaultConfigPath()
	if err != nil {
		log.Fatalf("Failed to get default config path: %v", err)
	}
	return path
}
