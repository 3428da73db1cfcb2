package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rubiojr/volunteer/pkg/api"
	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/notify"
	"github.com/rubiojr/volunteer/pkg/realtime"
	"github.com/rubiojr/volunteer/pkg/storage"
	"github.com/urfave/cli/v3"
)

// EventsCommand creates the events command
func EventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Manage stored events",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Create events from a JSON array of event requests (- reads stdin)",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "skip-invalid",
						Usage: "Report invalid entries and keep going instead of aborting",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one FILE argument")
					}
					return importEvents(ctx, c.String("config"), c.Args().First(), c.Bool("skip-invalid"))
				},
			},
			{
				Name:      "show",
				Usage:     "Print an event as JSON",
				ArgsUsage: "ID",
				Action: func(ctx context.Context, c *cli.Command) error {
					id, err := parseEventID(c.Args().First())
					if err != nil {
						return err
					}
					return showEvent(ctx, c.String("config"), id)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete events by id",
				ArgsUsage: "ID...",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() == 0 {
						return fmt.Errorf("at least one event id is required")
					}
					ids := make([]int64, 0, c.Args().Len())
					for _, arg := range c.Args().Slice() {
						id, err := parseEventID(arg)
						if err != nil {
							return err
						}
						ids = append(ids, id)
					}
					return deleteEvents(ctx, c.String("config"), ids)
				},
			},
		},
	}
}

func parseEventID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event id %q", s)
	}
	return id, nil
}

// readEventRequests decodes a JSON array of create requests from path, or
// from stdin when path is "-".
func readEventRequests(path string) ([]api.CreateEventRequest, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var reqs []api.CreateEventRequest
	if err := json.NewDecoder(r).Decode(&reqs); err != nil {
		return nil, fmt.Errorf("decoding events: %w", err)
	}
	return reqs, nil
}

func importEvents(ctx context.Context, configPath, path string, skipInvalid bool) error {
	reqs, err := readEventRequests(path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	publisher, closePublisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	created, skipped, err := createEvents(ctx, store, publisher, reqs, skipInvalid)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d events", created)
	if skipped > 0 {
		fmt.Printf(" (%d skipped)", skipped)
	}
	fmt.Println()
	return nil
}

// createEvents stores every request in order. Invalid requests abort the
// import unless skipInvalid is set, in which case they are reported and
// counted.
func createEvents(ctx context.Context, store storage.Store, publisher notify.Publisher, reqs []api.CreateEventRequest, skipInvalid bool) (created, skipped int, err error) {
	resolver := geocode.NewResolver(store)

	for i, req := range reqs {
		event, err := api.NewEvent(ctx, resolver, req)
		if err != nil {
			var verr *api.ValidationError
			invalid := errors.As(err, &verr) ||
				errors.Is(err, geocode.ErrInvalidInput) ||
				errors.Is(err, geocode.ErrNotFound)
			if invalid && skipInvalid {
				fmt.Printf("Warning: skipping entry %d (%s): %v\n", i+1, req.Name, err)
				skipped++
				continue
			}
			return created, skipped, fmt.Errorf("entry %d (%s): %w", i+1, req.Name, err)
		}

		if err := store.CreateEvent(ctx, event); err != nil {
			return created, skipped, fmt.Errorf("creating event %q: %w", event.Name, err)
		}
		created++

		if err := publisher.Publish(ctx, realtime.NewNotice(realtime.ActionCreated, *event)); err != nil {
			logger.Warnf("publishing notice for event %d: %v", event.ID, err)
		}
	}

	return created, skipped, nil
}

func showEvent(ctx context.Context, configPath string, id int64) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	event, err := store.GetEvent(ctx, id)
	if err != nil {
		return fmt.Errorf("getting event %d: %w", id, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(event)
}

func deleteEvents(ctx context.Context, configPath string, ids []int64) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	publisher, closePublisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	for _, id := range ids {
		if err := store.DeleteEvent(ctx, id); err != nil {
			return fmt.Errorf("deleting event %d: %w", id, err)
		}
		fmt.Printf("Deleted event %d\n", id)

		if err := publisher.Publish(ctx, realtime.NewNotice(realtime.ActionDeleted, core.Event{ID: id})); err != nil {
			logger.Warnf("publishing notice for event %d: %v", id, err)
		}
	}
	return nil
}
