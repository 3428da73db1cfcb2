package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/rubiojr/volunteer/pkg/db"
	"github.com/rubiojr/volunteer/pkg/version"
	"github.com/urfave/cli/v3"
)

type versionInfo struct {
	Version       string `json:"version"`
	SchemaVersion int    `json:"schema_version"`
	GoVersion     string `json:"go_version"`
}

// VersionCommand creates the version command
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version and database schema information",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print version information as JSON",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			info, err := currentVersion()
			if err != nil {
				return err
			}

			if c.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Println(version.BuildVersion())
			fmt.Println(metaStyle.Render(fmt.Sprintf("SQLite schema %d, %s", info.SchemaVersion, info.GoVersion)))
			return nil
		},
	}
}

// currentVersion reports the release and the newest schema version this
// binary migrates SQLite databases to.
func currentVersion() (versionInfo, error) {
	migrations, err := db.GetEmbeddedMigrations()
	if err != nil {
		return versionInfo{}, fmt.Errorf("reading embedded migrations: %w", err)
	}

	info := versionInfo{Version: version.APIVersion(), GoVersion: runtime.Version()}
	for _, m := range migrations {
		info.SchemaVersion = max(info.SchemaVersion, m.Version)
	}
	return info, nil
}
