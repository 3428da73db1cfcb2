package geocode

import (
	"context"
	"sync"
)

// MemoryTable is an in-memory Table keyed by zipcode.
type MemoryTable struct {
	mu      sync.RWMutex
	records map[string]LocationRecord
}

func NewMemoryTable(records ...LocationRecord) *MemoryTable {
	t := &MemoryTable{records: make(map[string]LocationRecord, len(records))}
	t.Add(records...)
	return t
}

// Add inserts or replaces records.
func (t *MemoryTable) Add(records ...LocationRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range records {
		t.records[r.Zipcode] = r
	}
}

func (t *MemoryTable) Lookup(ctx context.Context, zipcode string) (*LocationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[zipcode]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (t *MemoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
