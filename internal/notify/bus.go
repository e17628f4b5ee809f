package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tsylvester/paynless-framework-sub003/internal/event"
)

// Bus publishes notifications to an in-process event bus.
type Bus struct {
	bus event.Bus
}

func NewBus(b event.Bus) *Bus {
	return &Bus{bus: b}
}

func (b *Bus) Send(_ context.Context, n Notification) error {
	payload, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	e := event.Event{
		Type:      event.Type(n.Type),
		UserID:    n.TargetUserID,
		Internal:  n.IsInternalEvent,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if id, ok := jobIDOf(n.Data); ok {
		e.JobID = id
	}

	b.bus.Publish(e)
	return nil
}
