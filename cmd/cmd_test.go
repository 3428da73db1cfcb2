package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rubiojr/volunteer/pkg/api"
	"github.com/rubiojr/volunteer/pkg/config"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/realtime"
	"github.com/rubiojr/volunteer/pkg/search"
	"github.com/rubiojr/volunteer/pkg/storage"
)

const testGeoNames = "US\t48105\tAnn Arbor\tMichigan\tMI\tWashtenaw\t161\t\t\t42.2808\t-83.7430\t4\n" +
	"US\t48201\tDetroit\tMichigan\tMI\tWayne\t163\t\t\t42.3486\t-83.0567\t4\n"

type recordingPublisher struct {
	mu      sync.Mutex
	notices []realtime.Notice
}

func (p *recordingPublisher) Publish(ctx context.Context, n realtime.Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
	return nil
}

// isolate points every config lookup at temporary directories and clears
// environment overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	for _, name := range []string{
		"VOLUNTEER_LISTEN", "VOLUNTEER_STORAGE_DRIVER", "VOLUNTEER_DB_PATH",
		"VOLUNTEER_DATABASE_URL", "VOLUNTEER_ZIPCODES_FILE", "VOLUNTEER_KAFKA_BROKERS",
		"VOLUNTEER_KAFKA_TOPIC", "VOLUNTEER_RATE_LIMIT",
	} {
		t.Setenv(name, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func newZipcodeStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	path := filepath.Join(t.TempDir(), "US.txt")
	writeFile(t, path, testGeoNames)

	n, err := importZipcodes(context.Background(), store, path)
	if err != nil {
		t.Fatalf("importZipcodes: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 zipcodes imported, got %d", n)
	}
	return store
}

func eventRequests() []api.CreateEventRequest {
	return []api.CreateEventRequest{
		{Name: "Park cleanup", CreatorID: 1, Zipcode: "48105", StartDate: "05/01/2025", MaxVolunteers: 10},
		{Name: "Nowhere drive", CreatorID: 1, Zipcode: "99999", StartDate: "05/01/2025", MaxVolunteers: 10},
		{Name: "", CreatorID: 1, Zipcode: "48201", StartDate: "05/01/2025", MaxVolunteers: 10},
		{Name: "Food bank", CreatorID: 2, Zipcode: "48201", StartDate: "05/02/2025", MaxVolunteers: 4},
	}
}

func TestCreateEventsSkipInvalid(t *testing.T) {
	ctx := context.Background()
	store := newZipcodeStore(t)
	pub := &recordingPublisher{}

	created, skipped, err := createEvents(ctx, store, pub, eventRequests(), true)
	if err != nil {
		t.Fatalf("createEvents: %v", err)
	}
	if created != 2 || skipped != 2 {
		t.Fatalf("expected 2 created and 2 skipped, got %d and %d", created, skipped)
	}

	events, err := store.AllEvents(ctx)
	if err != nil {
		t.Fatalf("AllEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(events))
	}
	if events[1].City != "Detroit" || events[1].Location == nil {
		t.Errorf("expected resolved Detroit location, got %+v", events[1])
	}

	if len(pub.notices) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(pub.notices))
	}
	for _, n := range pub.notices {
		if n.Action != realtime.ActionCreated {
			t.Errorf("expected created notice, got %s", n.Action)
		}
	}
}

func TestCreateEventsStopsOnInvalid(t *testing.T) {
	store := newZipcodeStore(t)

	created, _, err := createEvents(context.Background(), store, &recordingPublisher{}, eventRequests(), false)
	if err == nil {
		t.Fatal("expected an error for the unknown zipcode")
	}
	if !errors.Is(err, geocode.ErrNotFound) {
		t.Errorf("expected ErrNotFound in chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "entry 2") {
		t.Errorf("expected the entry number in %q", err)
	}
	if created != 1 {
		t.Errorf("expected 1 event created before the failure, got %d", created)
	}
}

func TestReadEventRequests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	writeFile(t, path, `[{"event_name":"Park cleanup","creator_id":1,"zipcode":"48105","start_date":"05/01/2025","max_volunteers":10,"skills":["gardening"]}]`)

	reqs, err := readEventRequests(path)
	if err != nil {
		t.Fatalf("readEventRequests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Name != "Park cleanup" || len(reqs[0].Skills) != 1 {
		t.Errorf("unexpected requests %+v", reqs)
	}

	writeFile(t, path, `{"event_name":"not an array"}`)
	if _, err := readEventRequests(path); err == nil {
		t.Error("expected an error for a non-array document")
	}
}

func TestParseEventID(t *testing.T) {
	if id, err := parseEventID("42"); err != nil || id != 42 {
		t.Errorf("parseEventID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "abc"} {
		if _, err := parseEventID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestInitConfig(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config", "volunteer", "config.toml")

	if err := initConfig(path, false); err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	if _, err := config.LoadConfig(path); err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}

	if err := initConfig(path, false); err == nil {
		t.Error("expected refusing to overwrite without --force")
	}
	if err := initConfig(path, true); err != nil {
		t.Errorf("initConfig with force: %v", err)
	}
}

func TestRunMigrations(t *testing.T) {
	dir := isolate(t)
	ctx := context.Background()
	dbPath := filepath.Join(dir, "events.db")
	cfgPath := filepath.Join(dir, "config.toml")
	writeFile(t, cfgPath, "[storage]\ndriver = \"sqlite\"\npath = \""+filepath.ToSlash(dbPath)+"\"\n")

	// Database not created yet.
	if err := RunMigrations(ctx, cfgPath, true); err != nil {
		t.Fatalf("status on missing database: %v", err)
	}

	store, err := storage.NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	store.Close()

	if err := RunMigrations(ctx, cfgPath, true); err != nil {
		t.Errorf("status: %v", err)
	}
	if err := RunMigrations(ctx, cfgPath, false); err != nil {
		t.Errorf("apply on an up to date database: %v", err)
	}

	writeFile(t, cfgPath, "[storage]\ndriver = \"memory\"\n")
	if err := RunMigrations(ctx, cfgPath, false); err != nil {
		t.Errorf("memory driver: %v", err)
	}
}

func TestReloadConfiguration(t *testing.T) {
	isolate(t)
	store := newZipcodeStore(t)

	oldCfg, err := config.GetDefaultConfig()
	if err != nil {
		t.Fatalf("GetDefaultConfig: %v", err)
	}
	oldCfg.Maintenance.Enabled = false

	pipeline, err := search.New(store, geocode.NewResolver(store), oldCfg.SearchOptions())
	if err != nil {
		t.Fatalf("search.New: %v", err)
	}
	defer pipeline.Release()

	newCfg, _ := config.GetDefaultConfig()
	newCfg.Maintenance.Enabled = false
	newCfg.Search.DefaultLimit = 7

	sched := reloadConfiguration(oldCfg, newCfg, pipeline, store, nil)
	if sched != nil {
		t.Error("expected no scheduler while maintenance is disabled")
	}
	if got := pipeline.Config().DefaultLimit; got != 7 {
		t.Errorf("expected reloaded default limit 7, got %d", got)
	}

	enabled, _ := config.GetDefaultConfig()
	enabled.Search.DefaultLimit = 7
	sched = reloadConfiguration(newCfg, enabled, pipeline, store, nil)
	if sched == nil {
		t.Fatal("expected a scheduler once maintenance is enabled")
	}
	defer sched.Stop()
	if sched.Schedule() != enabled.Maintenance.Schedule {
		t.Errorf("expected schedule %q, got %q", enabled.Maintenance.Schedule, sched.Schedule())
	}
}

func TestCurrentVersion(t *testing.T) {
	info, err := currentVersion()
	if err != nil {
		t.Fatalf("currentVersion: %v", err)
	}
	if info.Version == "" || !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("unexpected version info: %+v", info)
	}
	if info.SchemaVersion != 2 {
		t.Errorf("expected schema version 2 from the embedded migrations, got %d", info.SchemaVersion)
	}
}
