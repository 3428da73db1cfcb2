package integration_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rubiojr/volunteer/pkg/api"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/realtime"
	"github.com/rubiojr/volunteer/pkg/search"
	"github.com/rubiojr/volunteer/pkg/storage"
)

// US.txt excerpt in GeoNames postal code format.
const geoNamesFixture = "US\t48104\tAnn Arbor\tMichigan\tMI\tWashtenaw\t161\t\t\t42.2634\t-83.7160\t4\n" +
	"US\t48105\tAnn Arbor\tMichigan\tMI\tWashtenaw\t161\t\t\t42.2808\t-83.7430\t4\n" +
	"US\t48201\tDetroit\tMichigan\tMI\tWayne\t163\t\t\t42.3486\t-83.0567\t4\n" +
	"US\t02134\tAllston\tMassachusetts\tMA\tSuffolk\t025\t\t\t42.3539\t-71.1337\t4\n"

type testEnv struct {
	store    *storage.SQLiteStore
	pipeline *search.Pipeline
	hub      *realtime.Hub
	server   *httptest.Server
}

// newTestEnv wires a SQLite store, the search pipeline and the API server
// the same way the serve command does.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "volunteer.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("Warning: failed to close store: %v", err)
		}
	})

	records, err := geocode.LoadGeoNames(strings.NewReader(geoNamesFixture))
	if err != nil {
		t.Fatalf("Failed to parse zipcodes: %v", err)
	}
	if _, err := store.ImportZipcodes(ctx, records); err != nil {
		t.Fatalf("Failed to import zipcodes: %v", err)
	}

	pipeline, err := search.New(store, geocode.NewResolver(store), search.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	t.Cleanup(pipeline.Release)

	hub := realtime.NewHub(16)
	srv := api.NewServer(store, pipeline, api.Options{Hub: hub})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{store: store, pipeline: pipeline, hub: hub, server: ts}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, r)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, data
}

func (e *testEnv) createEvent(t *testing.T, req api.CreateEventRequest) api.EventResponse {
	t.Helper()
	status, data := e.request(t, http.MethodPost, "/api/events", req)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 creating %q, got %d: %s", req.Name, status, data)
	}
	var created api.EventResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("Failed to decode created event: %v", err)
	}
	return created
}

func (e *testEnv) search(t *testing.T, query string) api.SearchResponse {
	t.Helper()
	status, data := e.request(t, http.MethodGet, "/api/events?"+query, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 for %q, got %d: %s", query, status, data)
	}
	var resp api.SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("Failed to decode search response: %v", err)
	}
	return resp
}

func names(resp api.SearchResponse) []string {
	out := make([]string, len(resp.Events))
	for i, e := range resp.Events {
		out[i] = e.Name
	}
	return out
}
