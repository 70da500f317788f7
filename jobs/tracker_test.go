package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	tr := NewTracker()
	id := tr.Create(6, []string{"a.pdf", "b.pdf"})

	snap, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCreated, snap.Status)
	assert.Equal(t, 6, snap.Total)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, snap.Filenames)

	tr.Start(id)
	tr.Update(id, 3, "processing batch 2")
	snap, _ = tr.Get(id)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, 3, snap.Current)
	assert.Equal(t, 50, snap.Percent())

	tr.Complete(id, "indexed 6 pages")
	snap, _ = tr.Get(id)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "indexed 6 pages", snap.Message)

	// Terminal means frozen.
	tr.Update(id, 99, "late update")
	tr.Fail(id, errors.New("late failure"))
	snap, _ = tr.Get(id)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.Current)
	assert.Empty(t, snap.Error)
}

func TestPercentGuardsZeroTotal(t *testing.T) {
	tr := NewTracker()
	id := tr.Create(0, nil)
	tr.Update(id, 5, "")
	snap, _ := tr.Get(id)
	assert.Equal(t, 0, snap.Percent())

	tr.SetTotal(id, 10)
	snap, _ = tr.Get(id)
	assert.Equal(t, 50, snap.Percent())
}

func TestCancelledBeatsLaterFailure(t *testing.T) {
	tr := NewTracker()
	id := tr.Create(4, nil)
	tr.Start(id)

	require.True(t, tr.Cancel(id))
	assert.True(t, tr.IsCancelled(id))

	tr.Fail(id, errors.New("upload failed"))
	snap, _ := tr.Get(id)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Empty(t, snap.Error)
}

func TestCancelReturnsFalseWhenAbsentOrTerminal(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Cancel("missing"))

	id := tr.Create(1, nil)
	tr.Complete(id, "done")
	assert.False(t, tr.Cancel(id))

	id2 := tr.Create(1, nil)
	require.True(t, tr.Cancel(id2))
	assert.False(t, tr.Cancel(id2))
}

func TestActiveJobs(t *testing.T) {
	tr := NewTracker()
	running := tr.Create(2, nil)
	tr.Start(running)
	done := tr.Create(2, nil)
	tr.Complete(done, "done")

	active := tr.ActiveJobs()
	require.Len(t, active, 1)
	assert.Equal(t, running, active[0].ID)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	tr := NewTracker()
	id := tr.Create(1000, nil)
	tr.Start(id)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(id, i, "progress")
		}
		tr.Complete(id, "done")
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if snap, ok := tr.Get(id); ok {
					_ = snap.Percent()
				}
			}
		}()
	}
	wg.Wait()

	snap, _ := tr.Get(id)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestWatchEmitsTerminalAndCloses(t *testing.T) {
	tr := NewTracker()
	id := tr.Create(2, nil)
	tr.Start(id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := tr.Watch(ctx, id, 10*time.Millisecond)

	// First event is the current state.
	first := <-ch
	assert.Equal(t, StatusRunning, first.Status)
	assert.False(t, first.Heartbeat)

	tr.Update(id, 1, "page 1")
	tr.Complete(id, "done")

	var last Event
	for e := range ch {
		last = e
	}
	assert.Equal(t, StatusCompleted, last.Status)
}

func TestWatchHeartbeats(t *testing.T) {
	tr := NewTracker()
	id := tr.Create(2, nil)
	tr.Start(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := tr.Watch(ctx, id, 5*time.Millisecond)
	<-ch // initial state

	// No writes: the next events must be heartbeats.
	hb := <-ch
	assert.True(t, hb.Heartbeat)
	assert.Equal(t, StatusRunning, hb.Status)
}

func TestWatchUnknownJob(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()

	ch := tr.Watch(ctx, "nope", 5*time.Millisecond)
	e := <-ch
	assert.Equal(t, StatusNotFound, e.Status)

	_, open := <-ch
	assert.False(t, open, "stream should close after not-found event")
}

func TestAttachAndJoin(t *testing.T) {
	tr := NewTracker()
	id := tr.Create(1, nil)
	finish := tr.Attach(id)

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.Complete(id, "done")
		finish()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Join(ctx))
}
