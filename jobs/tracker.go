// Package jobs tracks ingestion job state: a one-way state machine with
// progress snapshots, cooperative cancellation and a status event stream.
package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// Status is a job lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"

	// StatusNotFound is only ever emitted on the watch stream, as the
	// terminal event for an unknown job id.
	StatusNotFound Status = "not_found"
)

// Terminal reports whether the status is final. Terminal states never
// change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Snapshot is a copy-on-read view of a job. Snapshots are safe to retain;
// they never alias tracker state.
type Snapshot struct {
	ID        string   `json:"job_id"`
	Status    Status   `json:"status"`
	Total     int      `json:"total"`
	Current   int      `json:"current"`
	Message   string   `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
	Filenames []string `json:"filenames,omitempty"`
}

// Percent returns the rounded progress percentage, guarded against a zero
// total.
func (s Snapshot) Percent() int {
	if s.Total <= 0 {
		return 0
	}
	p := int(float64(s.Current)/float64(s.Total)*100 + 0.5)
	if p > 100 {
		p = 100
	}
	return p
}

type job struct {
	snap Snapshot
	// done is the background task handle; closed by the finish function
	// returned from Attach.
	done chan struct{}
}

// Tracker is the job registry.
//
// One writer (the pipeline) and any number of readers (status streams) may
// operate on the same job concurrently; readers get copy-on-read snapshots
// and never observe a partial write.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*job)}
}

// Create registers a new job and returns its id. total may be 0 when page
// counts are not yet known; use SetTotal once they are.
func (t *Tracker) Create(total int, filenames []string) string {
	id := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &job{
		snap: Snapshot{
			ID:        id,
			Status:    StatusCreated,
			Total:     total,
			Filenames: append([]string(nil), filenames...),
		},
	}
	return id
}

// Start transitions the job to running.
func (t *Tracker) Start(id string) {
	t.mutate(id, func(s *Snapshot) {
		if s.Status == StatusCreated {
			s.Status = StatusRunning
		}
	})
}

// Update sets progress and message. No-op once the job is terminal.
func (t *Tracker) Update(id string, current int, message string) {
	t.mutate(id, func(s *Snapshot) {
		s.Current = current
		s.Message = message
	})
}

// SetTotal sets the expected page total. No-op once the job is terminal.
func (t *Tracker) SetTotal(id string, total int) {
	t.mutate(id, func(s *Snapshot) {
		s.Total = total
	})
}

// Complete transitions the job to completed. No-op once terminal.
func (t *Tracker) Complete(id, message string) {
	t.mutate(id, func(s *Snapshot) {
		s.Status = StatusCompleted
		s.Message = message
	})
}

// Fail transitions the job to failed. No-op once terminal; in particular a
// failure reported after cancellation never demotes a cancelled job.
func (t *Tracker) Fail(id string, err error) {
	t.mutate(id, func(s *Snapshot) {
		s.Status = StatusFailed
		if err != nil {
			s.Error = err.Error()
		}
	})
}

// Cancel requests cancellation. Returns false when the job is absent or
// already terminal. Cancellation is terminal immediately, so it always wins
// a race with a failure reported afterwards.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[id]
	if !ok || j.snap.Status.Terminal() {
		return false
	}
	j.snap.Status = StatusCancelled
	j.snap.Message = "cancelled"
	return true
}

// IsCancelled reports whether the job was cancelled. Absent jobs read as
// not cancelled.
func (t *Tracker) IsCancelled(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	return ok && j.snap.Status == StatusCancelled
}

// Get returns a snapshot of the job, or false when absent.
func (t *Tracker) Get(id string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return cloneSnapshot(j.snap), true
}

// ActiveJobs returns snapshots of all non-terminal jobs.
func (t *Tracker) ActiveJobs() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Snapshot
	for _, j := range t.jobs {
		if !j.snap.Status.Terminal() {
			out = append(out, cloneSnapshot(j.snap))
		}
	}
	return out
}

// Attach registers the background task handle for a job and returns the
// finish function the task must call on every exit path.
func (t *Tracker) Attach(id string) func() {
	done := make(chan struct{})

	t.mu.Lock()
	if j, ok := t.jobs[id]; ok {
		j.done = done
	}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// Join blocks until every attached task has finished or ctx is done.
func (t *Tracker) Join(ctx context.Context) error {
	t.mu.RLock()
	handles := make([]chan struct{}, 0, len(t.jobs))
	for _, j := range t.jobs {
		if j.done != nil {
			handles = append(handles, j.done)
		}
	}
	t.mu.RUnlock()

	for _, done := range handles {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// mutate applies fn to the job snapshot unless the job is absent or
// terminal.
func (t *Tracker) mutate(id string, fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[id]
	if !ok || j.snap.Status.Terminal() {
		return
	}
	fn(&j.snap)
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Filenames = append([]string(nil), s.Filenames...)
	return out
}
