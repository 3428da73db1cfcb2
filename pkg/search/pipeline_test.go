package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geo"
	"github.com/rubiojr/volunteer/pkg/geocode"
)

var annArbor = geocode.LocationRecord{
	Zipcode:    "48105",
	Coordinate: geo.Coordinate{Latitude: 42.28, Longitude: -83.73},
	City:       "Ann Arbor",
	State:      "MI",
}

type fixture struct {
	name string
	org  string
	lat  float64
	lon  float64
}

// Three events lie within 10 miles of annArbor: Kerrytown (0.9), the food
// bank (2.6) and Ypsilanti (6.5). The closest of the rest is Canton (12.8).
var fixtures = []fixture{
	{"Beach cleanup at Lake Erie", "Toledo Parks", 41.6528, -83.5379},
	{"Kerrytown market help", "Kerrytown Co-op", 42.2850, -83.7460},
	{"Detroit riverwalk beach cleanup", "Detroit Riverfront", 42.3314, -83.0458},
	{"Food bank shift", "Food Gatherers", 42.2780, -83.7800},
	{"Chicago lakefront beach cleanup", "Alliance for the Great Lakes", 41.8781, -87.6298},
	{"Ypsilanti library reading", "Ypsi District Library", 42.2411, -83.6130},
	{"Canton tree planting", "Canton Green", 42.3087, -83.4822},
	{"Milan food drive", "Milan Lions", 42.0853, -83.6824},
	{"Chelsea fairgrounds setup", "Chelsea Fair", 42.3181, -84.0205},
	{"Brighton beach cleanup", "Brighton Rec", 42.5295, -83.7802},
	{"Jackson soup kitchen", "Jackson Interfaith", 42.2459, -84.4013},
	{"Flint water distribution", "Flint Cares", 43.0125, -83.6875},
	{"Lansing capitol tours", "Lansing Civic", 42.7325, -84.5555},
	{"Grand Rapids art prize", "ArtPrize", 42.9634, -85.6681},
	{"Boston harbor cleanup", "Boston Harbor Now", 42.3601, -71.0589},
	{"Denver trail work", "Volunteers for Outdoor Colorado", 39.7392, -104.9903},
	{"Cleveland food bank", "Greater Cleveland Food Bank", 41.4993, -81.6944},
	{"Kalamazoo nature center", "Kalamazoo Nature", 42.2917, -85.5872},
	{"Port Huron beach cleanup", "Blue Water Parks", 42.9709, -82.4249},
}

func fixtureEvents() []core.Event {
	events := make([]core.Event, 0, len(fixtures)+1)
	for i, f := range fixtures {
		events = append(events, core.Event{
			ID:           int64(i + 1),
			Name:         f.name,
			Description:  "Volunteers needed: " + strings.ToLower(f.name),
			Organization: f.org,
			Location:     &geo.Coordinate{Latitude: f.lat, Longitude: f.lon},
		})
	}
	events = append(events, core.Event{
		ID:           int64(len(fixtures) + 1),
		Name:         "Online beach cleanup planning",
		Description:  "Remote planning call",
		Organization: "Great Lakes Online",
	})
	return events
}

type fakeIndex struct {
	events      []core.Event
	textCalls   atomic.Int32
	allCalls    atomic.Int32
	lastBox     *geo.BoundingBox
	err         error
	searchDelay time.Duration
}

func (f *fakeIndex) SearchText(ctx context.Context, text string, box *geo.BoundingBox) ([]core.Event, error) {
	f.textCalls.Add(1)
	f.lastBox = box
	if f.err != nil {
		return nil, f.err
	}
	if f.searchDelay > 0 {
		select {
		case <-time.After(f.searchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	terms := strings.Fields(strings.ToLower(text))
	var out []core.Event
	for _, e := range f.events {
		haystack := strings.ToLower(e.Text())
		match := true
		for _, t := range terms {
			if !strings.Contains(haystack, t) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if box != nil && (e.Location == nil || !box.Contains(*e.Location)) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeIndex) AllEvents(ctx context.Context) ([]core.Event, error) {
	f.allCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]core.Event(nil), f.events...), nil
}

func (f *fakeIndex) calls() int {
	return int(f.textCalls.Load() + f.allCalls.Load())
}

type countingGeocoder struct {
	resolver *geocode.Resolver
	calls    atomic.Int32
}

func (g *countingGeocoder) Resolve(ctx context.Context, zip string) (geocode.LocationRecord, error) {
	g.calls.Add(1)
	return g.resolver.Resolve(ctx, zip)
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *fakeIndex, *countingGeocoder) {
	t.Helper()
	index := &fakeIndex{events: fixtureEvents()}
	gc := &countingGeocoder{resolver: geocode.NewResolver(geocode.NewMemoryTable(annArbor))}
	p, err := New(index, gc, cfg)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p, index, gc
}

func ids(results []core.EventSummary) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestSearchRadius(t *testing.T) {
	p, _, _ := newTestPipeline(t, DefaultConfig())

	results, err := p.Search(context.Background(), Query{Zip: "48105", Radius: "10", Limit: "5"})
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 4, 6}, ids(results))
	for _, r := range results {
		require.NotNil(t, r.DistanceMiles)
		assert.LessOrEqual(t, *r.DistanceMiles, 10.0)
	}
	assert.InDelta(t, 0.9, *results[0].DistanceMiles, 0.1)
	assert.InDelta(t, 2.6, *results[1].DistanceMiles, 0.1)
	assert.InDelta(t, 6.5, *results[2].DistanceMiles, 0.1)
}

func TestSearchTextWithoutLocation(t *testing.T) {
	p, index, gc := newTestPipeline(t, DefaultConfig())

	results, err := p.Search(context.Background(), Query{Text: "beach cleanup"})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 5, 10, 19, 20}, ids(results))
	for _, r := range results {
		assert.Nil(t, r.DistanceMiles)
	}
	assert.Equal(t, int32(1), index.textCalls.Load())
	assert.Nil(t, index.lastBox)
	assert.Zero(t, gc.calls.Load())
}

func TestSearchTextWithLocation(t *testing.T) {
	p, index, _ := newTestPipeline(t, DefaultConfig())

	results, err := p.Search(context.Background(), Query{Text: "beach cleanup", Zip: "48105", Radius: "50"})
	require.NoError(t, err)

	// Brighton 17.4, Detroit 35.1, Toledo 44.3. Chicago and Port Huron are
	// further than 50 miles and the online event has no location.
	assert.Equal(t, []int64{10, 3, 1}, ids(results))
	require.NotNil(t, index.lastBox)
	assert.Equal(t, geo.BoxAround(annArbor.Coordinate, 6), *index.lastBox)
}

func TestSearchUnknownZipcode(t *testing.T) {
	p, index, _ := newTestPipeline(t, DefaultConfig())

	_, err := p.Search(context.Background(), Query{Zip: "00000", Radius: "5"})
	assert.ErrorIs(t, err, ErrZipcodeNotFound)
	assert.Zero(t, index.calls())
}

func TestSearchMalformedLimit(t *testing.T) {
	p, _, _ := newTestPipeline(t, DefaultConfig())

	results, err := p.Search(context.Background(), Query{Limit: "abc"})
	require.NoError(t, err)
	assert.Len(t, results, 10)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, ids(results))

	absent, err := p.Search(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, ids(absent), ids(results))
}

func TestSearchLimit(t *testing.T) {
	p, _, _ := newTestPipeline(t, DefaultConfig())

	tests := []struct {
		name  string
		query Query
		want  int
	}{
		{"explicit limit", Query{Limit: "3"}, 3},
		{"limit above candidates", Query{Limit: "100"}, 20},
		{"zero limit", Query{Limit: "0"}, 0},
		{"negative limit", Query{Limit: "-4"}, 0},
		{"padded limit", Query{Limit: " 5 "}, 5},
		{"float limit", Query{Limit: "2.5"}, 10},
		{"word limit", Query{Limit: "ten"}, 10},
		{"zero limit with location", Query{Zip: "48105", Radius: "100", Limit: "0"}, 0},
		{"location limit", Query{Zip: "48105", Radius: "100", Limit: "4"}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := p.Search(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Len(t, results, tt.want)
		})
	}
}

func TestSearchInvalidLocationPrecedesIndex(t *testing.T) {
	tests := []struct {
		name  string
		query Query
	}{
		{"letters", Query{Text: "beach", Zip: "abcde", Radius: "10"}},
		{"zip plus four", Query{Zip: "48105-1234", Radius: "10"}},
		{"blank zip", Query{Zip: "   ", Radius: "10"}},
		{"bad radius", Query{Zip: "48105", Radius: "ten"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, index, gc := newTestPipeline(t, DefaultConfig())

			_, err := p.Search(context.Background(), tt.query)
			assert.ErrorIs(t, err, ErrInvalidZipcode)
			assert.Zero(t, index.calls(), "index must not be queried")
			assert.Zero(t, gc.calls.Load(), "geocoder must not be queried")
		})
	}
}

func TestSearchZipWithoutRadiusIgnoresLocation(t *testing.T) {
	p, _, gc := newTestPipeline(t, DefaultConfig())

	results, err := p.Search(context.Background(), Query{Zip: "not-a-zip"})
	require.NoError(t, err)
	assert.Len(t, results, 10)
	assert.Zero(t, gc.calls.Load())
}

func TestSearchRadiusMonotonic(t *testing.T) {
	p, _, _ := newTestPipeline(t, DefaultConfig())

	for _, text := range []string{"", "beach cleanup", "food"} {
		prev := -1
		for radius := 0; radius <= 700; radius += 5 {
			results, err := p.Search(context.Background(), Query{
				Text:   text,
				Zip:    "48105",
				Radius: fmt.Sprint(radius),
				Limit:  "100",
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(results), prev, "text=%q radius=%d", text, radius)
			prev = len(results)
		}
	}
}

func TestSearchSortedByDistance(t *testing.T) {
	p, _, _ := newTestPipeline(t, DefaultConfig())

	results, err := p.Search(context.Background(), Query{Zip: "48105", Radius: "5000", Limit: "100"})
	require.NoError(t, err)
	require.Len(t, results, len(fixtures), "events without location are dropped")

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, *results[i-1].DistanceMiles, *results[i].DistanceMiles)
	}
}

func TestSearchBrowseBoundingBox(t *testing.T) {
	cfg := DefaultConfig()
	p, _, _ := newTestPipeline(t, cfg)

	open, err := p.Search(context.Background(), Query{Zip: "48105", Radius: "5000", Limit: "100"})
	require.NoError(t, err)

	cfg.BrowseBoundingBox = true
	p.SetConfig(cfg)
	boxed, err := p.Search(context.Background(), Query{Zip: "48105", Radius: "5000", Limit: "100"})
	require.NoError(t, err)

	assert.Contains(t, ids(open), int64(15), "boston is reachable when browsing")
	assert.Contains(t, ids(open), int64(16), "denver is reachable when browsing")
	assert.NotContains(t, ids(boxed), int64(15))
	assert.NotContains(t, ids(boxed), int64(16))
	assert.Contains(t, ids(boxed), int64(5))
	assert.Len(t, boxed, len(open)-2)
}

func TestSearchParallelMatchesSequential(t *testing.T) {
	seqCfg := DefaultConfig()
	seqCfg.ParallelThreshold = -1
	seq, _, _ := newTestPipeline(t, seqCfg)

	parCfg := DefaultConfig()
	parCfg.ParallelThreshold = 1
	parCfg.Workers = 3
	par, _, _ := newTestPipeline(t, parCfg)

	q := Query{Zip: "48105", Radius: "1000", Limit: "100"}
	want, err := seq.Search(context.Background(), q)
	require.NoError(t, err)
	got, err := par.Search(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestSearchLookupTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LookupTimeout = 10 * time.Millisecond
	p, index, _ := newTestPipeline(t, cfg)
	index.searchDelay = time.Second

	_, err := p.Search(context.Background(), Query{Text: "beach"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearchIndexError(t *testing.T) {
	p, index, _ := newTestPipeline(t, DefaultConfig())
	index.err = errors.New("disk on fire")

	_, err := p.Search(context.Background(), Query{Text: "beach"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidZipcode)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, &countingGeocoder{}, DefaultConfig())
	assert.Error(t, err)
	_, err = New(&fakeIndex{}, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		raw  string
		want Query
	}{
		{"query=beach&zip=48105&radius=10&limit=5", Query{Text: "beach", Zip: "48105", Radius: "10", Limit: "5"}},
		{"q=food", Query{Text: "food"}},
		{"query=beach&q=food", Query{Text: "beach"}},
		{"", Query{}},
	}

	for _, tt := range tests {
		values, err := url.ParseQuery(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ParseQuery(values), tt.raw)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	def := DefaultConfig()

	assert.Equal(t, def.MaxSearchRange, cfg.MaxSearchRange)
	assert.Equal(t, 10, cfg.DefaultLimit)
	assert.Equal(t, geo.EarthRadiusKm, cfg.EarthRadiusKm)
	assert.Equal(t, geo.KmToMiles, cfg.KmToMiles)
	assert.Positive(t, cfg.Workers)
}
