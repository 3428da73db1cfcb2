package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geo"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/log"
)

var (
	// ErrInvalidZipcode is returned when the zipcode (or the radius that
	// comes with it) is not an integer.
	ErrInvalidZipcode = errors.New("invalid zipcode")

	// ErrZipcodeNotFound is returned when the zipcode is well formed but
	// unknown.
	ErrZipcodeNotFound = errors.New("zipcode not found")
)

// EventIndex is the event repository as seen by the pipeline.
type EventIndex interface {
	// SearchText returns the events whose name, description or
	// organization match text. When box is not nil only events with a
	// location strictly inside the box are returned.
	SearchText(ctx context.Context, text string, box *geo.BoundingBox) ([]core.Event, error)

	// AllEvents returns every event in repository order.
	AllEvents(ctx context.Context) ([]core.Event, error)
}

// Geocoder resolves a zipcode to a location.
type Geocoder interface {
	Resolve(ctx context.Context, zipcode string) (geocode.LocationRecord, error)
}

// Pipeline runs event searches.
type Pipeline struct {
	index    EventIndex
	geocoder Geocoder
	config   atomic.Pointer[Config]
	pool     *ants.Pool
	logger   *log.Logger
}

// New creates a pipeline over the given index and geocoder. Call Release
// when done to stop the worker pool.
func New(index EventIndex, geocoder Geocoder, cfg Config) (*Pipeline, error) {
	if index == nil {
		return nil, errors.New("event index is required")
	}
	if geocoder == nil {
		return nil, errors.New("geocoder is required")
	}

	cfg = cfg.withDefaults()
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	p := &Pipeline{
		index:    index,
		geocoder: geocoder,
		pool:     pool,
		logger:   log.ForService("search"),
	}
	p.config.Store(&cfg)
	return p, nil
}

// Config returns the configuration in effect.
func (p *Pipeline) Config() Config {
	return *p.config.Load()
}

// SetConfig replaces the configuration. Searches already running keep the
// configuration they started with.
func (p *Pipeline) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	p.config.Store(&cfg)
	p.pool.Tune(cfg.Workers)
}

// Release stops the worker pool.
func (p *Pipeline) Release() {
	p.pool.Release()
}

// Search runs q and returns at most limit event summaries. Location searches
// return events sorted by ascending distance with DistanceMiles set.
// Otherwise results keep repository order.
func (p *Pipeline) Search(ctx context.Context, q Query) ([]core.EventSummary, error) {
	cfg := p.Config()
	limit := q.limit(cfg.DefaultLimit)

	var (
		origin *geo.Coordinate
		radius float64
	)
	if q.HasLocation() {
		zip, err := geocode.Normalize(q.Zip)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidZipcode, q.Zip)
		}
		r, err := strconv.Atoi(strings.TrimSpace(q.Radius))
		if err != nil {
			return nil, fmt.Errorf("%w: radius %q", ErrInvalidZipcode, q.Radius)
		}
		radius = float64(r)

		loc, err := p.resolve(ctx, cfg, zip)
		if err != nil {
			return nil, err
		}
		origin = &loc.Coordinate
		p.logger.Debugf("zipcode %s resolved to %s (%s, %s)", zip, loc.Coordinate, loc.City, loc.State)
	}

	events, err := p.candidates(ctx, cfg, q.text(), origin)
	if err != nil {
		return nil, err
	}

	if origin == nil {
		return truncate(summaries(events), limit), nil
	}

	ranked := p.rank(cfg, events, *origin, radius)
	p.logger.Debugf("%d of %d candidates within %.0f miles", len(ranked), len(events), radius)
	return truncate(ranked, limit), nil
}

func (p *Pipeline) resolve(ctx context.Context, cfg Config, zip string) (geocode.LocationRecord, error) {
	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	loc, err := p.geocoder.Resolve(ctx, zip)
	switch {
	case err == nil:
		return loc, nil
	case errors.Is(err, geocode.ErrInvalidInput):
		return geocode.LocationRecord{}, fmt.Errorf("%w: %q", ErrInvalidZipcode, zip)
	case errors.Is(err, geocode.ErrNotFound):
		return geocode.LocationRecord{}, fmt.Errorf("%w: %s", ErrZipcodeNotFound, zip)
	default:
		return geocode.LocationRecord{}, fmt.Errorf("resolving zipcode: %w", err)
	}
}

func (p *Pipeline) candidates(ctx context.Context, cfg Config, text string, origin *geo.Coordinate) ([]core.Event, error) {
	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	var box *geo.BoundingBox
	if origin != nil {
		b := geo.BoxAround(*origin, cfg.MaxSearchRange)
		box = &b
	}

	if text != "" {
		events, err := p.index.SearchText(ctx, text, box)
		if err != nil {
			return nil, fmt.Errorf("searching events: %w", err)
		}
		return events, nil
	}

	events, err := p.index.AllEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	if box != nil && cfg.BrowseBoundingBox {
		events = within(events, *box)
	}
	return events, nil
}

// rank computes the distance from origin of every event with a location,
// drops those further than radius and sorts the rest nearest first. Events
// without a location cannot be ranked and are dropped.
func (p *Pipeline) rank(cfg Config, events []core.Event, origin geo.Coordinate, radius float64) []core.EventSummary {
	est := geo.NewEstimator(cfg.EarthRadiusKm)
	distances := make([]float64, len(events))

	measure := func(i int) {
		if loc := events[i].Location; loc != nil {
			distances[i] = est.EstimateMiles(origin, *loc, cfg.KmToMiles)
		}
	}

	if cfg.ParallelThreshold > 0 && len(events) >= cfg.ParallelThreshold {
		p.parallel(len(events), measure)
	} else {
		for i := range events {
			measure(i)
		}
	}

	ranked := make([]core.EventSummary, 0, len(events))
	for i, e := range events {
		if e.Location == nil || distances[i] > radius {
			continue
		}
		s := e.Summary()
		d := distances[i]
		s.DistanceMiles = &d
		ranked = append(ranked, s)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].DistanceMiles < *ranked[j].DistanceMiles
	})
	return ranked
}

// parallel runs fn for every index in [0, n) on the worker pool, splitting
// the range in one chunk per worker.
func (p *Pipeline) parallel(n int, fn func(i int)) {
	workers := p.pool.Cap()
	if workers < 1 {
		workers = 1
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		task := func() {
			for i := start; i < end; i++ {
				fn(i)
			}
		}

		wg.Add(1)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			task()
		}); err != nil {
			p.logger.Debugf("worker pool unavailable, measuring inline: %v", err)
			task()
			wg.Done()
		}
	}
	wg.Wait()
}

func withTimeout(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	if cfg.LookupTimeout > 0 {
		return context.WithTimeout(ctx, cfg.LookupTimeout)
	}
	return context.WithCancel(ctx)
}

func within(events []core.Event, box geo.BoundingBox) []core.Event {
	kept := events[:0:0]
	for _, e := range events {
		if e.Location != nil && box.Contains(*e.Location) {
			kept = append(kept, e)
		}
	}
	return kept
}

func summaries(events []core.Event) []core.EventSummary {
	out := make([]core.EventSummary, len(events))
	for i, e := range events {
		out[i] = e.Summary()
	}
	return out
}

func truncate(results []core.EventSummary, limit int) []core.EventSummary {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}
