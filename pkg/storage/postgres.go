package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geo"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/log"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		short_desc TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		organization TEXT NOT NULL DEFAULT '',
		start_date DATE,
		end_date DATE,
		close_date DATE,
		max_volunteers INTEGER NOT NULL DEFAULT 0,
		current_volunteers INTEGER NOT NULL DEFAULT 0,
		creator_id BIGINT NOT NULL DEFAULT 0,
		street_addr TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zipcode TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		skills TEXT[] NOT NULL DEFAULT '{}',
		pic_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		search_terms TEXT NOT NULL DEFAULT '',
		search_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', search_terms)) STORED
	)`,
	// Tables created before search_terms indexed the raw, accented text.
	`ALTER TABLE events DROP COLUMN IF EXISTS search`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS search_terms TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS search_tsv TSVECTOR
		GENERATED ALWAYS AS (to_tsvector('simple', search_terms)) STORED`,
	`CREATE INDEX IF NOT EXISTS idx_events_search_tsv ON events USING gin(search_tsv)`,
	`CREATE INDEX IF NOT EXISTS idx_events_lat_lon ON events(lat, lon)`,
	`CREATE TABLE IF NOT EXISTS zipcodes (
		zipcode VARCHAR(16) PRIMARY KEY,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS store_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

const pgEventColumns = `id, name, short_desc, description, organization,
	start_date, end_date, close_date, max_volunteers, current_volunteers,
	creator_id, street_addr, city, state, zipcode, lat, lon, skills,
	pic_url, created_at, updated_at`

// PostgresStore keeps events in PostgreSQL with a generated tsvector column
// for full text search. The tsvector is built from search_terms, the event
// text already folded by searchTerms, so queries and documents share the
// same normalization.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgresStore connects to dsn and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: log.ForService("storage")}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return s.backfillSearchTerms(ctx)
}

// backfillSearchTerms fills search_terms for rows written before the column
// existed.
func (s *PostgresStore) backfillSearchTerms(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, organization FROM events
		WHERE search_terms = ''`)
	if err != nil {
		return fmt.Errorf("querying events to index: %w", err)
	}

	batch := &pgx.Batch{}
	for rows.Next() {
		var e core.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.Organization); err != nil {
			rows.Close()
			return fmt.Errorf("scanning event to index: %w", err)
		}
		if terms := pgSearchTerms(e); terms != "" {
			batch.Queue(`UPDATE events SET search_terms = $1 WHERE id = $2`, terms, e.ID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating events to index: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("indexing events: %w", err)
	}
	s.logger.Infof("indexed search terms for %d existing events", batch.Len())
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SearchText(ctx context.Context, text string, box *geo.BoundingBox) ([]core.Event, error) {
	terms := searchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}

	query := `SELECT ` + pgEventColumns + ` FROM events
		WHERE search_tsv @@ plainto_tsquery('simple', $1)`
	args := []any{strings.Join(terms, " ")}
	if box != nil {
		query += ` AND lat > $2 AND lat < $3 AND lon > $4 AND lon < $5`
		args = append(args, box.MinLatitude, box.MaxLatitude, box.MinLongitude, box.MaxLongitude)
	}
	query += ` ORDER BY ts_rank(search_tsv, plainto_tsquery('simple', $1)) DESC, id`

	return s.queryEvents(ctx, query, args...)
}

func (s *PostgresStore) AllEvents(ctx context.Context) ([]core.Event, error) {
	return s.queryEvents(ctx, `SELECT `+pgEventColumns+` FROM events ORDER BY id`)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id int64) (*core.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgEventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanPgEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) CreateEvent(ctx context.Context, e *core.Event) error {
	lat, lon := pgLocation(e.Location)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events (name, short_desc, description, organization,
			start_date, end_date, close_date, max_volunteers, current_volunteers,
			creator_id, street_addr, city, state, zipcode, lat, lon, skills, pic_url,
			search_terms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at, updated_at`,
		e.Name, e.ShortDesc, e.Description, e.Organization,
		pgDate(e.StartDate), pgDate(e.EndDate), pgDate(e.CloseDate),
		e.MaxVolunteers, e.CurrentVolunteers, e.CreatorID, e.StreetAddr,
		e.City, e.State, e.Zipcode, lat, lon, pgSkills(e.Skills), e.PicURL,
		pgSearchTerms(*e),
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, e *core.Event) error {
	lat, lon := pgLocation(e.Location)
	err := s.pool.QueryRow(ctx, `
		UPDATE events SET name = $1, short_desc = $2, description = $3,
			organization = $4, start_date = $5, end_date = $6, close_date = $7,
			max_volunteers = $8, current_volunteers = $9, creator_id = $10,
			street_addr = $11, city = $12, state = $13, zipcode = $14, lat = $15,
			lon = $16, skills = $17, pic_url = $18, search_terms = $19,
			updated_at = now()
		WHERE id = $20
		RETURNING updated_at`,
		e.Name, e.ShortDesc, e.Description, e.Organization,
		pgDate(e.StartDate), pgDate(e.EndDate), pgDate(e.CloseDate),
		e.MaxVolunteers, e.CurrentVolunteers, e.CreatorID, e.StreetAddr,
		e.City, e.State, e.Zipcode, lat, lon, pgSkills(e.Skills), e.PicURL,
		pgSearchTerms(*e), e.ID,
	).Scan(&e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrEventNotFound, e.ID)
	}
	if err != nil {
		return fmt.Errorf("updating event %d: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting event %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, zipcode string) (*geocode.LocationRecord, error) {
	var rec geocode.LocationRecord
	err := s.pool.QueryRow(ctx,
		`SELECT zipcode, lat, lon, city, state FROM zipcodes WHERE zipcode = $1`, zipcode,
	).Scan(&rec.Zipcode, &rec.Coordinate.Latitude, &rec.Coordinate.Longitude, &rec.City, &rec.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying zipcode: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) ImportZipcodes(ctx context.Context, records []geocode.LocationRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO zipcodes (zipcode, lat, lon, city, state)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (zipcode) DO UPDATE
			SET lat = EXCLUDED.lat, lon = EXCLUDED.lon, city = EXCLUDED.city, state = EXCLUDED.state`,
			r.Zipcode, r.Coordinate.Latitude, r.Coordinate.Longitude, r.City, r.State)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("importing zipcodes: %w", err)
	}
	return len(records), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Driver: DriverPostgres}

	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(lat) FROM events`).Scan(&stats.Events, &stats.EventsWithLocation)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM zipcodes`).Scan(&stats.Zipcodes); err != nil {
		return nil, fmt.Errorf("counting zipcodes: %w", err)
	}

	var last time.Time
	err = s.pool.QueryRow(ctx, `SELECT updated_at FROM store_metadata WHERE key = 'last_optimized'`).Scan(&last)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("reading store metadata: %w", err)
	default:
		stats.LastOptimized = &last
	}

	return stats, nil
}

// Optimize refreshes planner statistics for the event and zipcode tables.
func (s *PostgresStore) Optimize(ctx context.Context) error {
	for _, stmt := range []string{`ANALYZE events`, `ANALYZE zipcodes`} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("running %q: %w", stmt, err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO store_metadata (key, value, updated_at)
		VALUES ('last_optimized', '', now())
		ON CONFLICT (key) DO UPDATE SET updated_at = now()`)
	if err != nil {
		return fmt.Errorf("recording optimization time: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]core.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		e, err := scanPgEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

func scanPgEvent(row pgx.Row) (core.Event, error) {
	var (
		e                     core.Event
		start, end, closeDate *time.Time
		lat, lon              *float64
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.ShortDesc, &e.Description, &e.Organization,
		&start, &end, &closeDate, &e.MaxVolunteers, &e.CurrentVolunteers,
		&e.CreatorID, &e.StreetAddr, &e.City, &e.State, &e.Zipcode, &lat, &lon,
		&e.Skills, &e.PicURL, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Event{}, err
		}
		return core.Event{}, fmt.Errorf("scanning event: %w", err)
	}

	e.StartDate = derefTime(start)
	e.EndDate = derefTime(end)
	e.CloseDate = derefTime(closeDate)
	if lat != nil && lon != nil {
		e.Location = &geo.Coordinate{Latitude: *lat, Longitude: *lon}
	}
	if len(e.Skills) == 0 {
		e.Skills = nil
	}
	return e, nil
}

func pgLocation(c *geo.Coordinate) (lat, lon *float64) {
	if c == nil {
		return nil, nil
	}
	la, lo := c.Latitude, c.Longitude
	return &la, &lo
}

func pgDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// pgSearchTerms renders the indexed text of e the same way SearchText
// renders queries.
func pgSearchTerms(e core.Event) string {
	return strings.Join(searchTerms(e.Text()), " ")
}

func pgSkills(skills []string) []string {
	if skills == nil {
		return []string{}
	}
	return skills
}
