package jobs

import (
	"context"
	"time"
)

// DefaultWatchInterval is the poll interval of Watch when none is given.
const DefaultWatchInterval = 500 * time.Millisecond

// Event is one entry of a job status stream.
type Event struct {
	JobID   string `json:"job_id"`
	Status  Status `json:"status"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	// Heartbeat marks an event emitted only to keep the stream alive;
	// nothing changed since the previous event.
	Heartbeat bool `json:"heartbeat,omitempty"`
}

func eventFrom(s Snapshot, heartbeat bool) Event {
	return Event{
		JobID:     s.ID,
		Status:    s.Status,
		Current:   s.Current,
		Total:     s.Total,
		Percent:   s.Percent(),
		Message:   s.Message,
		Error:     s.Error,
		Heartbeat: heartbeat,
	}
}

// Watch streams job status events until the job reaches a terminal state or
// ctx is done. The channel is closed after the first terminal event.
//
// An update event is emitted whenever (current, status) changed since the
// last emission; otherwise each tick produces a heartbeat. An unknown job id
// yields a single not-found terminal event.
func (t *Tracker) Watch(ctx context.Context, id string, interval time.Duration) <-chan Event {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ch := make(chan Event, 1)

	go func() {
		defer close(ch)

		send := func(e Event) bool {
			select {
			case ch <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		snap, ok := t.Get(id)
		if !ok {
			send(Event{JobID: id, Status: StatusNotFound})
			return
		}
		if !send(eventFrom(snap, false)) {
			return
		}
		if snap.Status.Terminal() {
			return
		}
		lastCurrent, lastStatus := snap.Current, snap.Status

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			snap, ok := t.Get(id)
			if !ok {
				send(Event{JobID: id, Status: StatusNotFound})
				return
			}

			changed := snap.Current != lastCurrent || snap.Status != lastStatus
			if !send(eventFrom(snap, !changed)) {
				return
			}
			if snap.Status.Terminal() {
				return
			}
			if changed {
				lastCurrent, lastStatus = snap.Current, snap.Status
			}
		}
	}()

	return ch
}
