package scheduler

import (
	"sync"
	"time"
)

// maxJobEvents bounds the in-memory event ring the presentation layer polls.
const maxJobEvents = 50

// JobEvent is one lifecycle notification (started, completed, failed,
// skipped, quota_denied).
type JobEvent struct {
	Type      string         `json:"type"`
	JobName   string         `json:"job_name"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// EventRing keeps the newest events, oldest dropped first.
type EventRing struct {
	mu     sync.Mutex
	events []JobEvent
	now    func() time.Time
}

// NewEventRing creates an empty ring.
func NewEventRing() *EventRing {
	return &EventRing{now: time.Now}
}

// Add appends an event, evicting the oldest past the cap.
func (r *EventRing) Add(eventType, jobName string, details map[string]any) JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := JobEvent{
		Type:      eventType,
		JobName:   jobName,
		Timestamp: r.now().UTC(),
		Details:   details,
	}
	r.events = append(r.events, event)
	if len(r.events) > maxJobEvents {
		r.events = append(r.events[:0:0], r.events[len(r.events)-maxJobEvents:]...)
	}
	return event
}

// Since returns events newer than the given instant; a zero time returns
// everything retained.
func (r *EventRing) Since(since time.Time) []JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []JobEvent
	for _, e := range r.events {
		if since.IsZero() || e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}
