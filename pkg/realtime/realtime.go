// Package realtime fans out event change notices to in-process listeners
// such as websocket sessions.
//
// Delivery is best effort: every listener has its own buffered channel and a
// notice that does not fit in a full buffer is dropped for that listener
// only, so a slow consumer never blocks the writers. There is no persistence
// or replay; the Kafka publisher in pkg/notify covers durable delivery.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rubiojr/volunteer/pkg/core"
)

// Action is the kind of change a Notice describes.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Notice describes a change to an event. Event is nil for deletions.
type Notice struct {
	Action  Action             `json:"action"`
	EventID int64              `json:"event_id"`
	Event   *core.EventSummary `json:"event,omitempty"`
	At      time.Time          `json:"at"`
}

// NewNotice builds a notice for e. Deletions carry only the id.
func NewNotice(action Action, e core.Event) Notice {
	n := Notice{Action: action, EventID: e.ID, At: time.Now().UTC()}
	if action != ActionDeleted {
		s := e.Summary()
		n.Event = &s
	}
	return n
}

// Hub is an in-memory fan-out dispatcher. It is safe for concurrent use.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan Notice
	nextID    uint64
	bufSize   int
	dropped   atomic.Uint64
}

// NewHub constructs a hub with the given per-listener buffer size.
// If bufSize <= 0, a default of 32 is used.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Hub{
		listeners: make(map[uint64]chan Notice),
		bufSize:   bufSize,
	}
}

// Register adds a new listener and returns its id and receive channel.
// Callers must later Unregister(id) to release resources.
func (h *Hub) Register() (uint64, <-chan Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Notice, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes the listener with the given id and closes its channel.
// It is safe to call multiple times; unknown ids are ignored.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

// Publish delivers n to every registered listener. It never blocks and
// never fails.
func (h *Hub) Publish(_ context.Context, n Notice) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- n:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Size returns the current number of listeners.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Dropped returns how many deliveries were skipped because a listener was
// full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
