package core

import (
	"testing"
	"time"

	"github.com/rubiojr/volunteer/pkg/geo"
)

func TestEventSummary(t *testing.T) {
	loc := &geo.Coordinate{Latitude: 42.28, Longitude: -83.74}
	e := Event{
		ID:           1,
		Name:         "Park cleanup",
		Organization: "Friends of the Parks",
		StartDate:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Location:     loc,
	}

	s := e.Summary()
	if s.StartDate != "05/01/2026" {
		t.Errorf("expected start date 05/01/2026, got %q", s.StartDate)
	}
	if s.DistanceMiles != nil {
		t.Errorf("expected no distance on a plain summary")
	}
	if s.Location == nil || *s.Location != *loc {
		t.Fatalf("expected location %v, got %v", loc, s.Location)
	}

	s.Location.Latitude = 0
	if e.Location.Latitude != 42.28 {
		t.Errorf("summary location must not alias the event location")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"05/01/2026", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), false},
		{" 12/31/2025 ", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"2026-05-01", time.Time{}, true},
		{"13/01/2026", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSpots(t *testing.T) {
	if got := (Event{MaxVolunteers: 10, CurrentVolunteers: 4}).Spots(); got != 6 {
		t.Errorf("expected 6 spots, got %d", got)
	}
	if got := (Event{MaxVolunteers: 2, CurrentVolunteers: 5}).Spots(); got != 0 {
		t.Errorf("expected 0 spots when overbooked, got %d", got)
	}
}
