package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geocode"
	"github.com/rubiojr/volunteer/pkg/realtime"
	"github.com/rubiojr/volunteer/pkg/storage"
)

const maxBodyBytes = 1 << 20

func (s *Server) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !s.decode(w, r, &req) {
		return
	}

	event, err := NewEvent(r.Context(), s.resolver, req)
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, codeInvalidRequest, verr.Error())
		return
	case err != nil:
		s.writeZipcodeError(w, err)
		return
	}

	if err := s.store.CreateEvent(r.Context(), event); err != nil {
		logger.Errorf("creating event: %v", err)
		s.writeError(w, http.StatusInternalServerError, codeInternal, "Failed to create event.")
		return
	}
	logger.Infof("created event %d (%s)", event.ID, event.Name)

	s.publish(r.Context(), realtime.NewNotice(realtime.ActionCreated, *event))
	s.writeJSON(w, http.StatusCreated, newEventResponse(event))
}

// NewEvent validates req and builds the event it describes, resolving the
// zipcode to city, state and coordinate. Validation failures are returned
// as *ValidationError; zipcode failures wrap the geocode sentinels.
func NewEvent(ctx context.Context, resolver *geocode.Resolver, req CreateEventRequest) (*core.Event, error) {
	if err := validate.Struct(&req); err != nil {
		return nil, &ValidationError{err: err}
	}

	record, err := resolver.Resolve(ctx, req.Zipcode)
	if err != nil {
		return nil, err
	}

	// Already validated as MM/DD/YYYY.
	start, _ := core.ParseDate(req.StartDate)
	return &core.Event{
		Name:          strings.TrimSpace(req.Name),
		ShortDesc:     req.ShortDesc,
		Description:   req.Description,
		Organization:  req.Organization,
		StartDate:     start,
		EndDate:       dateOrToday(req.EndDate),
		CloseDate:     dateOrToday(req.CloseDate),
		MaxVolunteers: req.MaxVolunteers,
		CreatorID:     req.CreatorID,
		StreetAddr:    req.StreetAddr,
		City:          record.City,
		State:         record.State,
		Zipcode:       record.Zipcode,
		Location:      &record.Coordinate,
		Skills:        req.Skills,
		PicURL:        req.PicURL,
	}, nil
}

func (s *Server) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.eventID(w, r)
	if !ok {
		return
	}

	event, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "Failed to get event.")
		return
	}
	s.writeJSON(w, http.StatusOK, newEventResponse(event))
}

func (s *Server) HandleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.eventID(w, r)
	if !ok {
		return
	}

	var req UpdateEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, codeInvalidRequest, validationMessage(err))
		return
	}

	event, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "Failed to get event.")
		return
	}

	if req.Zipcode != nil && strings.TrimSpace(*req.Zipcode) != event.Zipcode {
		record, err := s.resolver.Resolve(r.Context(), *req.Zipcode)
		if err != nil {
			s.writeZipcodeError(w, err)
			return
		}
		event.Zipcode = record.Zipcode
		event.City = record.City
		event.State = record.State
		event.Location = &record.Coordinate
	}
	applyUpdate(event, &req)

	if event.CurrentVolunteers > event.MaxVolunteers {
		s.writeError(w, http.StatusBadRequest, codeInvalidRequest, "current_volunteers cannot exceed max_volunteers")
		return
	}

	if err := s.store.UpdateEvent(r.Context(), event); err != nil {
		s.writeStoreError(w, err, "Failed to update event.")
		return
	}
	logger.Infof("updated event %d", event.ID)

	s.publish(r.Context(), realtime.NewNotice(realtime.ActionUpdated, *event))
	s.writeJSON(w, http.StatusOK, newEventResponse(event))
}

func (s *Server) HandleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.eventID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteEvent(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "Failed to delete event.")
		return
	}
	logger.Infof("deleted event %d", id)

	s.publish(r.Context(), realtime.NewNotice(realtime.ActionDeleted, core.Event{ID: id}))
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into dst, writing the error response itself
// when it fails.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, codeInvalidRequest, "Malformed JSON body.")
		return false
	}
	return true
}

func (s *Server) eventID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, codeInvalidID, "Invalid event id.")
		return 0, false
	}
	return id, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, storage.ErrEventNotFound) {
		s.writeError(w, http.StatusNotFound, codeEventNotFound, "Event not found.")
		return
	}
	logger.Errorf("%s: %v", strings.TrimSuffix(message, "."), err)
	s.writeError(w, http.StatusInternalServerError, codeInternal, message)
}

func applyUpdate(e *core.Event, req *UpdateEventRequest) {
	if req.Name != nil {
		e.Name = strings.TrimSpace(*req.Name)
	}
	if req.ShortDesc != nil {
		e.ShortDesc = *req.ShortDesc
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Organization != nil {
		e.Organization = *req.Organization
	}
	if req.StreetAddr != nil {
		e.StreetAddr = *req.StreetAddr
	}
	if req.StartDate != nil {
		e.StartDate, _ = core.ParseDate(*req.StartDate)
	}
	if req.EndDate != nil {
		e.EndDate, _ = core.ParseDate(*req.EndDate)
	}
	if req.CloseDate != nil {
		e.CloseDate, _ = core.ParseDate(*req.CloseDate)
	}
	if req.MaxVolunteers != nil {
		e.MaxVolunteers = *req.MaxVolunteers
	}
	if req.CurrentVolunteers != nil {
		e.CurrentVolunteers = *req.CurrentVolunteers
	}
	if req.Skills != nil {
		e.Skills = *req.Skills
	}
	if req.PicURL != nil {
		e.PicURL = *req.PicURL
	}
}

func dateOrToday(s string) time.Time {
	if s == "" {
		return core.Today()
	}
	t, err := core.ParseDate(s)
	if err != nil {
		return core.Today()
	}
	return t
}
