package event

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/metrics"
)

const defaultBuffer = 100

// Type is the notification type an event carries.
type Type string

// Event is a job lifecycle notification fanned out to in-process
// subscribers such as the SSE stream.
type Event struct {
	Type      Type            `json:"type"`
	JobID     uuid.UUID       `json:"job_id,omitempty"`
	UserID    string          `json:"user_id"`
	Internal  bool            `json:"is_internal_event"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Filter selects the events a subscriber receives. Zero fields match
// everything except internal events, which need IncludeInternal.
type Filter struct {
	JobID           uuid.UUID
	UserID          string
	Types           []Type
	IncludeInternal bool
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	switch {
	case e.Internal && !f.IncludeInternal:
		return false
	case f.JobID != uuid.Nil && f.JobID != e.JobID:
		return false
	case f.UserID != "" && f.UserID != e.UserID:
		return false
	case len(f.Types) > 0 && !slices.Contains(f.Types, e.Type):
		return false
	}
	return true
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type subscription struct {
	filter Filter
	ch     chan Event
}

type bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
	buffer int
}

// Option configures a bus.
type Option func(*bus)

// WithBuffer sets the per-subscriber channel size.
func WithBuffer(n int) Option {
	return func(b *bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func New(opts ...Option) Bus {
	b := &bus{subs: make(map[uint64]subscription), buffer: defaultBuffer}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter.Match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(string(e.Type)).Inc()
		}
	}
}

// Subscribe registers filter until ctx is done, then closes the channel.
func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := subscription{filter: filter, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}
