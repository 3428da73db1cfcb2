package storage

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"

	"github.com/rubiojr/volunteer/pkg/core"
	"github.com/rubiojr/volunteer/pkg/geo"
	"github.com/rubiojr/volunteer/pkg/geocode"
)

// pointSize is the side, in degrees, of the rectangle stored in the R-tree
// for an event location. rtreego rejects zero sized rectangles.
const pointSize = 1e-9

// eventItem is an event location stored in the R-tree.
type eventItem struct {
	id   int64
	rect rtreego.Rect
}

func (i *eventItem) Bounds() rtreego.Rect {
	return i.rect
}

// MemoryStore is a Store that lives in process memory. Located events are
// indexed in an R-tree so bounding box searches don't scan every event.
type MemoryStore struct {
	mu            sync.RWMutex
	nextID        int64
	events        map[int64]core.Event
	terms         map[int64]map[string]struct{}
	items         map[int64]*eventItem
	tree          *rtreego.Rtree
	zipcodes      *geocode.MemoryTable
	lastOptimized *time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[int64]core.Event),
		terms:    make(map[int64]map[string]struct{}),
		items:    make(map[int64]*eventItem),
		tree:     rtreego.NewTree(2, 25, 50),
		zipcodes: geocode.NewMemoryTable(),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) SearchText(ctx context.Context, text string, box *geo.BoundingBox) ([]core.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := searchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	if box != nil {
		ids = s.idsWithin(*box)
	} else {
		ids = s.sortedIDs()
	}

	var out []core.Event
	for _, id := range ids {
		if s.matches(id, terms) {
			out = append(out, copyEvent(s.events[id]))
		}
	}
	return out, nil
}

func (s *MemoryStore) AllEvents(ctx context.Context) ([]core.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.sortedIDs()
	out := make([]core.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyEvent(s.events[id]))
	}
	return out, nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id int64) (*core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	e = copyEvent(e)
	return &e, nil
}

func (s *MemoryStore) CreateEvent(ctx context.Context, e *core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now().UTC()
	e.ID = s.nextID
	e.CreatedAt = now
	e.UpdatedAt = now
	s.put(*e)
	return nil
}

func (s *MemoryStore) UpdateEvent(ctx context.Context, e *core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.events[e.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrEventNotFound, e.ID)
	}
	s.remove(e.ID)
	e.CreatedAt = old.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	s.put(*e)
	return nil
}

func (s *MemoryStore) DeleteEvent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	s.remove(id)
	return nil
}

func (s *MemoryStore) Lookup(ctx context.Context, zipcode string) (*geocode.LocationRecord, error) {
	return s.zipcodes.Lookup(ctx, zipcode)
}

func (s *MemoryStore) ImportZipcodes(ctx context.Context, records []geocode.LocationRecord) (int, error) {
	s.zipcodes.Add(records...)
	return len(records), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Stats{
		Driver:             DriverMemory,
		Events:             len(s.events),
		EventsWithLocation: len(s.items),
		Zipcodes:           s.zipcodes.Len(),
		LastOptimized:      s.lastOptimized,
	}, nil
}

// Optimize rebuilds the R-tree from scratch, which repacks nodes left
// sparse by deletions.
func (s *MemoryStore) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objs := make([]rtreego.Spatial, 0, len(s.items))
	for _, id := range s.sortedIDs() {
		if item, ok := s.items[id]; ok {
			objs = append(objs, item)
		}
	}
	s.tree = rtreego.NewTree(2, 25, 50, objs...)

	now := time.Now().UTC()
	s.lastOptimized = &now
	return nil
}

// put stores e and indexes it. Callers hold the write lock.
func (s *MemoryStore) put(e core.Event) {
	e = copyEvent(e)
	s.events[e.ID] = e

	terms := make(map[string]struct{})
	for _, t := range searchTerms(e.Text()) {
		terms[t] = struct{}{}
	}
	s.terms[e.ID] = terms

	if e.Location != nil {
		point := rtreego.Point{e.Location.Longitude, e.Location.Latitude}
		rect, err := rtreego.NewRect(point, []float64{pointSize, pointSize})
		if err == nil {
			item := &eventItem{id: e.ID, rect: rect}
			s.items[e.ID] = item
			s.tree.Insert(item)
		}
	}
}

// remove drops an event and its index entries. Callers hold the write lock.
func (s *MemoryStore) remove(id int64) {
	if item, ok := s.items[id]; ok {
		s.tree.Delete(item)
		delete(s.items, id)
	}
	delete(s.terms, id)
	delete(s.events, id)
}

func (s *MemoryStore) matches(id int64, terms []string) bool {
	indexed := s.terms[id]
	for _, t := range terms {
		if _, ok := indexed[t]; !ok {
			return false
		}
	}
	return true
}

// idsWithin returns, in id order, the events strictly inside box. The R-tree
// gives the candidates and the strict containment check settles the
// borders.
func (s *MemoryStore) idsWithin(box geo.BoundingBox) []int64 {
	width := box.MaxLongitude - box.MinLongitude
	height := box.MaxLatitude - box.MinLatitude
	if width <= 0 || height <= 0 || math.IsNaN(width) || math.IsNaN(height) {
		return nil
	}

	query, err := rtreego.NewRect(rtreego.Point{box.MinLongitude, box.MinLatitude}, []float64{width, height})
	if err != nil {
		return nil
	}

	var ids []int64
	for _, obj := range s.tree.SearchIntersect(query) {
		item := obj.(*eventItem)
		if loc := s.events[item.id].Location; loc != nil && box.Contains(*loc) {
			ids = append(ids, item.id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *MemoryStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func copyEvent(e core.Event) core.Event {
	if e.Location != nil {
		loc := *e.Location
		e.Location = &loc
	}
	e.Skills = slices.Clone(e.Skills)
	return e
}
