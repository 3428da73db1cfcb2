package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/rubiojr/volunteer/pkg/geo"
)

// DateLayout is the wire format for event dates (MM/DD/YYYY).
const DateLayout = "01/02/2006"

// Event is a persisted volunteering event.
type Event struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	ShortDesc         string          `json:"short_desc"`
	Description       string          `json:"description"`
	Organization      string          `json:"organization"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           time.Time       `json:"end_date"`
	CloseDate         time.Time       `json:"close_date"`
	MaxVolunteers     int             `json:"max_volunteers"`
	CurrentVolunteers int             `json:"current_volunteers"`
	CreatorID         int64           `json:"creator_id"`
	StreetAddr        string          `json:"street_addr"`
	City              string          `json:"city"`
	State             string          `json:"state"`
	Zipcode           string          `json:"zipcode"`
	Location          *geo.Coordinate `json:"location,omitempty"`
	Skills            []string        `json:"skills"`
	PicURL            string          `json:"pic_url,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// EventSummary is the projection of an event returned by searches.
// DistanceMiles is only set when the search was location based.
type EventSummary struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	ShortDesc     string          `json:"short_desc"`
	Description   string          `json:"description"`
	Organization  string          `json:"organization"`
	City          string          `json:"city"`
	State         string          `json:"state"`
	Zipcode       string          `json:"zipcode"`
	StartDate     string          `json:"start_date"`
	Location      *geo.Coordinate `json:"location,omitempty"`
	DistanceMiles *float64        `json:"distance,omitempty"`
}

// Summary projects the event into a search result.
func (e Event) Summary() EventSummary {
	s := EventSummary{
		ID:           e.ID,
		Name:         e.Name,
		ShortDesc:    e.ShortDesc,
		Description:  e.Description,
		Organization: e.Organization,
		City:         e.City,
		State:        e.State,
		Zipcode:      e.Zipcode,
		StartDate:    FormatDate(e.StartDate),
	}
	if e.Location != nil {
		loc := *e.Location
		s.Location = &loc
	}
	return s
}

// Text returns the concatenation of the full text searchable fields.
func (e Event) Text() string {
	return strings.Join([]string{e.Name, e.Description, e.Organization}, " ")
}

// Spots returns how many volunteer places are still open.
func (e Event) Spots() int {
	if n := e.MaxVolunteers - e.CurrentVolunteers; n > 0 {
		return n
	}
	return 0
}

// ParseDate parses a MM/DD/YYYY date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected MM/DD/YYYY", s)
	}
	return t, nil
}

// FormatDate renders t as MM/DD/YYYY, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// Today returns the current date truncated to midnight UTC.
func Today() time.Time {
	y, m, d := time.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
