package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/db"
	"github.com/rubiojr/volunteer/pkg/geo"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/log"
)

const isoDate = "2006-01-02"

// maxSkillLookupIDs caps the ids bound in a single skills query. Larger
// result sets read the whole skills table instead.
const maxSkillLookupIDs = 500

const eventColumns = `e.id, e.name, e.short_desc, e.description, e.organization,
	e.start_date, e.end_date, e.close_date, e.max_volunteers, e.current_volunteers,
	e.creator_id, e.street_addr, e.city, e.state, e.zipcode, e.lat, e.lon,
	e.pic_url, e.created_at, e.updated_at`

// SQLiteStore keeps events in a single SQLite database with an FTS5 index
// over name, description and organization.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *log.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies pending migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = memory",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if err := db.InitializeDatabase(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &SQLiteStore{db: conn, path: path, logger: log.ForService("storage")}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SearchText(ctx context.Context, text string, box *geo.BoundingBox) ([]core.Event, error) {
	terms := searchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}

	query := `SELECT ` + eventColumns + `
		FROM events e
		JOIN events_fts fts ON e.id = fts.rowid
		WHERE events_fts MATCH ?`
	args := []any{ftsQuery(terms)}
	if box != nil {
		query += ` AND e.lat > ? AND e.lat < ? AND e.lon > ? AND e.lon < ?`
		args = append(args, box.MinLatitude, box.MaxLatitude, box.MinLongitude, box.MaxLongitude)
	}
	query += ` ORDER BY bm25(events_fts), e.id`

	return s.queryEvents(ctx, query, args...)
}

func (s *SQLiteStore) AllEvents(ctx context.Context) ([]core.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events e ORDER BY e.id`)
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*core.Event, error) {
	events, err := s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	return &events[0], nil
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, e *core.Event) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		lat, lon := nullLocation(e.Location)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (name, short_desc, description, organization,
				start_date, end_date, close_date, max_volunteers, current_volunteers,
				creator_id, street_addr, city, state, zipcode, lat, lon, pic_url,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Name, e.ShortDesc, e.Description, e.Organization,
			formatISO(e.StartDate), formatISO(e.EndDate), formatISO(e.CloseDate),
			e.MaxVolunteers, e.CurrentVolunteers, e.CreatorID, e.StreetAddr,
			e.City, e.State, e.Zipcode, lat, lon, e.PicURL, now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading event id: %w", err)
		}

		if err := indexEvent(ctx, tx, id, e); err != nil {
			return err
		}
		if err := replaceSkills(ctx, tx, id, e.Skills); err != nil {
			return err
		}

		e.ID = id
		e.CreatedAt = now
		e.UpdatedAt = now
		return nil
	})
}

func (s *SQLiteStore) UpdateEvent(ctx context.Context, e *core.Event) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		lat, lon := nullLocation(e.Location)
		res, err := tx.ExecContext(ctx, `
			UPDATE events SET name = ?, short_desc = ?, description = ?,
				organization = ?, start_date = ?, end_date = ?, close_date = ?,
				max_volunteers = ?, current_volunteers = ?, creator_id = ?,
				street_addr = ?, city = ?, state = ?, zipcode = ?, lat = ?, lon = ?,
				pic_url = ?, updated_at = ?
			WHERE id = ?`,
			e.Name, e.ShortDesc, e.Description, e.Organization,
			formatISO(e.StartDate), formatISO(e.EndDate), formatISO(e.CloseDate),
			e.MaxVolunteers, e.CurrentVolunteers, e.CreatorID, e.StreetAddr,
			e.City, e.State, e.Zipcode, lat, lon, e.PicURL, now, e.ID,
		)
		if err != nil {
			return fmt.Errorf("updating event %d: %w", e.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %d", ErrEventNotFound, e.ID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM events_fts WHERE rowid = ?`, e.ID); err != nil {
			return fmt.Errorf("removing event %d from index: %w", e.ID, err)
		}
		if err := indexEvent(ctx, tx, e.ID, e); err != nil {
			return err
		}
		if err := replaceSkills(ctx, tx, e.ID, e.Skills); err != nil {
			return err
		}

		e.UpdatedAt = now
		return nil
	})
}

func (s *SQLiteStore) DeleteEvent(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting event %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %d", ErrEventNotFound, id)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM events_fts WHERE rowid = ?`, id); err != nil {
			return fmt.Errorf("removing event %d from index: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM event_skills WHERE event_id = ?`, id); err != nil {
			return fmt.Errorf("deleting skills of event %d: %w", id, err)
		}
		return nil
	})
}

func (s *SQLiteStore) Lookup(ctx context.Context, zipcode string) (*geocode.LocationRecord, error) {
	var rec geocode.LocationRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT zipcode, lat, lon, city, state FROM zipcodes WHERE zipcode = ?`, zipcode,
	).Scan(&rec.Zipcode, &rec.Coordinate.Latitude, &rec.Coordinate.Longitude, &rec.City, &rec.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying zipcode: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) ImportZipcodes(ctx context.Context, records []geocode.LocationRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO zipcodes (zipcode, lat, lon, city, state)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer func() {
			if err := stmt.Close(); err != nil {
				s.logger.Warnf("failed to close statement: %v", err)
			}
		}()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.Zipcode, r.Coordinate.Latitude, r.Coordinate.Longitude, r.City, r.State); err != nil {
				return fmt.Errorf("inserting zipcode %s: %w", r.Zipcode, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Driver: DriverSQLite}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(lat) FROM events`,
	).Scan(&stats.Events, &stats.EventsWithLocation)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM zipcodes`).Scan(&stats.Zipcodes); err != nil {
		return nil, fmt.Errorf("counting zipcodes: %w", err)
	}

	var last string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM store_metadata WHERE key = 'last_optimized'`).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("reading store metadata: %w", err)
	default:
		if t, err := time.Parse(time.RFC3339, last); err == nil {
			stats.LastOptimized = &t
		}
	}

	return stats, nil
}

// Optimize merges the FTS index segments, refreshes query planner
// statistics and truncates the WAL.
func (s *SQLiteStore) Optimize(ctx context.Context) error {
	steps := []string{
		`INSERT INTO events_fts(events_fts) VALUES('optimize')`,
		`PRAGMA optimize`,
		`ANALYZE`,
		`PRAGMA wal_checkpoint(TRUNCATE)`,
	}
	for _, step := range steps {
		if _, err := s.db.ExecContext(ctx, step); err != nil {
			return fmt.Errorf("running %q: %w", step, err)
		}
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO store_metadata (key, value, updated_at)
		VALUES ('last_optimized', ?, ?)`, now.Format(time.RFC3339), now)
	if err != nil {
		return fmt.Errorf("recording optimization time: %w", err)
	}
	return nil
}

// Vacuum rebuilds the database file.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				s.logger.Warnf("failed to rollback transaction: %v", err)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warnf("failed to close rows: %v", err)
		}
	}()

	var events []core.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	if err := s.attachSkills(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *SQLiteStore) attachSkills(ctx context.Context, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}

	query := `SELECT event_id, skill FROM event_skills ORDER BY event_id, position`
	var ids []any
	if len(events) <= maxSkillLookupIDs {
		ids = make([]any, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		query = `SELECT event_id, skill FROM event_skills WHERE event_id IN (` + placeholders + `) ORDER BY event_id, position`
	}

	rows, err := s.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return fmt.Errorf("querying skills: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warnf("failed to close rows: %v", err)
		}
	}()

	skills := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var skill string
		if err := rows.Scan(&id, &skill); err != nil {
			return fmt.Errorf("scanning skill: %w", err)
		}
		skills[id] = append(skills[id], skill)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating skills: %w", err)
	}

	for i := range events {
		events[i].Skills = skills[events[i].ID]
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (core.Event, error) {
	var (
		e                     core.Event
		start, end, closeDate string
		lat, lon              sql.NullFloat64
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.ShortDesc, &e.Description, &e.Organization,
		&start, &end, &closeDate, &e.MaxVolunteers, &e.CurrentVolunteers,
		&e.CreatorID, &e.StreetAddr, &e.City, &e.State, &e.Zipcode, &lat, &lon,
		&e.PicURL, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return core.Event{}, fmt.Errorf("scanning event: %w", err)
	}

	e.StartDate = parseISO(start)
	e.EndDate = parseISO(end)
	e.CloseDate = parseISO(closeDate)
	if lat.Valid && lon.Valid {
		e.Location = &geo.Coordinate{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	return e, nil
}

func indexEvent(ctx context.Context, tx *sql.Tx, id int64, e *core.Event) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO events_fts (rowid, name, description, organization) VALUES (?, ?, ?, ?)`,
		id, e.Name, e.Description, e.Organization)
	if err != nil {
		return fmt.Errorf("indexing event %d: %w", id, err)
	}
	return nil
}

func replaceSkills(ctx context.Context, tx *sql.Tx, id int64, skills []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_skills WHERE event_id = ?`, id); err != nil {
		return fmt.Errorf("clearing skills of event %d: %w", id, err)
	}
	for i, skill := range skills {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO event_skills (event_id, position, skill) VALUES (?, ?, ?)`, id, i, skill)
		if err != nil {
			return fmt.Errorf("inserting skill %q of event %d: %w", skill, id, err)
		}
	}
	return nil
}

func nullLocation(c *geo.Coordinate) (lat, lon sql.NullFloat64) {
	if c == nil {
		return lat, lon
	}
	return sql.NullFloat64{Float64: c.Latitude, Valid: true}, sql.NullFloat64{Float64: c.Longitude, Valid: true}
}

func formatISO(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(isoDate)
}

func parseISO(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(isoDate, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
