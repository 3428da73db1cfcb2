// Package storage persists events and the postal code reference table.
//
// Three backends implement Store: SQLite with an FTS5 index (the default),
// PostgreSQL with a tsvector index, and an in-memory store backed by an
// R-tree that is used by tests and ephemeral servers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geo"
	"github.com/rubiojr/volunteer/pkg/geocode"
)

// ErrEventNotFound is returned when an event id does not exist.
var ErrEventNotFound = errors.New("event not found")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Store is an event repository and postal code table.
type Store interface {
	// SearchText returns events matching every term of text across name,
	// description and organization, best match first. When box is set only
	// events located strictly inside it are returned.
	SearchText(ctx context.Context, text string, box *geo.BoundingBox) ([]core.Event, error)

	// AllEvents returns every event ordered by id.
	AllEvents(ctx context.Context) ([]core.Event, error)

	GetEvent(ctx context.Context, id int64) (*core.Event, error)

	// CreateEvent stores e and sets its ID and timestamps.
	CreateEvent(ctx context.Context, e *core.Event) error

	// UpdateEvent replaces the stored event with the same ID.
	UpdateEvent(ctx context.Context, e *core.Event) error

	DeleteEvent(ctx context.Context, id int64) error

	// Lookup implements geocode.Table.
	Lookup(ctx context.Context, zipcode string) (*geocode.LocationRecord, error)

	// ImportZipcodes inserts or replaces postal code records.
	ImportZipcodes(ctx context.Context, records []geocode.LocationRecord) (int, error)

	Stats(ctx context.Context) (*Stats, error)

	// Optimize runs backend maintenance (index merges, statistics).
	Optimize(ctx context.Context) error

	Close() error
}

// Stats summarizes the store contents.
type Stats struct {
	Driver             string     `json:"driver"`
	Events             int        `json:"events"`
	EventsWithLocation int        `json:"events_with_location"`
	Zipcodes           int        `json:"zipcodes"`
	LastOptimized      *time.Time `json:"last_optimized,omitempty"`
}

// Options selects and configures a backend.
type Options struct {
	Driver string
	// Path is the SQLite database file.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
}

// Open returns the store selected by opts.Driver. An empty driver selects
// SQLite.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		if opts.Path == "" {
			return nil, errors.New("sqlite storage requires a database path")
		}
		return NewSQLiteStore(ctx, opts.Path)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, errors.New("postgres storage requires a dsn")
		}
		return NewPostgresStore(ctx, opts.DSN)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
