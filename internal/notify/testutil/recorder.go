package testutil

import (
	"context"
	"sync"

	"github.com/tsylvester/paynless-framework-sub003/internal/notify"
)

// Recorder is an Emitter that keeps every notification it is sent.
type Recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
	// Err, when set, is returned from every Send after recording.
	Err error
}

func (r *Recorder) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.Err
}

// Sent returns a copy of the recorded notifications in send order.
func (r *Recorder) Sent() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

// OfType returns the recorded notifications with type t.
func (r *Recorder) OfType(t notify.Type) []notify.Notification {
	var out []notify.Notification
	for _, n := range r.Sent() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}
