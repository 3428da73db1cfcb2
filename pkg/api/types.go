package api

import (
	"time"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geo"
	"github.com/rubiojr/volunteer/pkg/realtime"
	"github.com/rubiojr/volunteer/pkg/storage"
)

// Error codes returned in ErrorResponse.Error.
const (
	codeInvalidZipcode  = "invalid_zipcode"
	codeZipcodeNotFound = "zipcode_not_found"
	codeEventNotFound   = "event_not_found"
	codeInvalidRequest  = "invalid_request"
	codeInvalidID       = "invalid_id"
	codeRateLimited     = "rate_limited"
	codeInternal        = "internal_error"
	codeTimeout         = "timeout"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type SearchResponse struct {
	Events []core.EventSummary `json:"events"`
	Count  int                 `json:"count"`
}

// EventResponse is the wire form of a stored event. Dates use MM/DD/YYYY.
type EventResponse struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	ShortDesc         string          `json:"short_desc"`
	Description       string          `json:"description"`
	Organization      string          `json:"organization"`
	StartDate         string          `json:"start_date"`
	EndDate           string          `json:"end_date"`
	CloseDate         string          `json:"close_date"`
	MaxVolunteers     int             `json:"max_volunteers"`
	CurrentVolunteers int             `json:"current_volunteers"`
	Spots             int             `json:"spots"`
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

func newEventResponse(e *core.Event) EventResponse {
	skills := e.Skills
	if skills == nil {
		skills = []string{}
	}
	return EventResponse{
		ID:                e.ID,
		Name:              e.Name,
		ShortDesc:         e.ShortDesc,
		Description:       e.Description,
		Organization:      e.Organization,
		StartDate:         core.FormatDate(e.StartDate),
		EndDate:           core.FormatDate(e.EndDate),
		CloseDate:         core.FormatDate(e.CloseDate),
		MaxVolunteers:     e.MaxVolunteers,
		CurrentVolunteers: e.CurrentVolunteers,
		Spots:             e.Spots(),
		CreatorID:         e.CreatorID,
		StreetAddr:        e.StreetAddr,
		City:              e.City,
		State:             e.State,
		Zipcode:           e.Zipcode,
		Location:          e.Location,
		Skills:            skills,
		PicURL:            e.PicURL,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

// CreateEventRequest is the body of POST /api/events.
type CreateEventRequest struct {
	Name          string   `json:"event_name" validate:"required,max=200"`
	ShortDesc     string   `json:"short_desc" validate:"max=500"`
	Description   string   `json:"full_desc"`
	Organization  string   `json:"organization" validate:"max=200"`
	CreatorID     int64    `json:"creator_id" validate:"required,gt=0"`
	StreetAddr    string   `json:"street_addr"`
	Zipcode       string   `json:"zipcode" validate:"required"`
	StartDate     string   `json:"start_date" validate:"required,usdate"`
	EndDate       string   `json:"end_date" validate:"omitempty,usdate"`
	CloseDate     string   `json:"close_date" validate:"omitempty,usdate"`
	MaxVolunteers int      `json:"max_volunteers" validate:"required,gt=0"`
	Skills        []string `json:"skills" validate:"omitempty,dive,required,max=64"`
	PicURL        string   `json:"pic_url" validate:"omitempty,url"`
}

// UpdateEventRequest is the body of PUT /api/events/{id}. Absent fields keep
// their stored value; skills are replaced wholesale when present.
type UpdateEventRequest struct {
	Name              *string   `json:"event_name" validate:"omitnil,min=1,max=200"`
	ShortDesc         *string   `json:"short_desc" validate:"omitnil,max=500"`
	Description       *string   `json:"full_desc"`
	Organization      *string   `json:"organization" validate:"omitnil,max=200"`
	StreetAddr        *string   `json:"street_addr"`
	Zipcode           *string   `json:"zipcode" validate:"omitnil,min=1"`
	StartDate         *string   `json:"start_date" validate:"omitnil,usdate"`
	EndDate           *string   `json:"end_date" validate:"omitnil,usdate"`
	CloseDate         *string   `json:"close_date" validate:"omitnil,usdate"`
	MaxVolunteers     *int      `json:"max_volunteers" validate:"omitnil,gt=0"`
	CurrentVolunteers *int      `json:"current_volunteers" validate:"omitnil,gte=0"`
	Skills            *[]string `json:"skills" validate:"omitnil,dive,required,max=64"`
	PicURL            *string   `json:"pic_url" validate:"omitnil,url"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type StatsResponse struct {
	Storage        *storage.Stats `json:"storage"`
	Listeners      int            `json:"listeners"`
	DroppedNotices uint64         `json:"dropped_notices"`
}

// StreamMessage is a websocket frame. Type is "init" for the first frame
// and "notice" for each event change.
type StreamMessage struct {
	Type   string           `json:"type"`
	Notice *realtime.Notice `json:"notice,omitempty"`
	Time   time.Time        `json:"time"`
}
