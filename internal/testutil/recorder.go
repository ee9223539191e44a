package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vk/apw/internal/graph"
)

// ExecutionRecord holds the start and end times for a single job run.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Recorder builds nodes that log their runs. It is safe for use by
// concurrent jobs.
type Recorder struct {
	mu         sync.Mutex
	started    []string
	finished   []string
	runs       map[string]int
	records    map[string]ExecutionRecord
	running    int
	maxRunning int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		runs:    make(map[string]int),
		records: make(map[string]ExecutionRecord),
	}
}

// Node returns a node that records its run and then calls fn, if any.
func (r *Recorder) Node(id string, fn graph.Action) graph.Node {
	return graph.NewNode(id, r.Action(id, fn))
}

// Sleeper returns a node that records its run and sleeps for d.
func (r *Recorder) Sleeper(id string, d time.Duration) graph.Node {
	return r.Node(id, func(ctx context.Context, _ *graph.Exec) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Action wraps fn so that each call is recorded under id.
func (r *Recorder) Action(id string, fn graph.Action) graph.Action {
	return func(ctx context.Context, x *graph.Exec) error {
		start := time.Now()
		r.mu.Lock()
		r.started = append(r.started, id)
		r.running++
		r.maxRunning = max(r.maxRunning, r.running)
		r.mu.Unlock()

		var err error
		if fn != nil {
			err = fn(ctx, x)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		r.running--
		r.finished = append(r.finished, id)
		r.runs[id]++
		r.records[id] = ExecutionRecord{Start: start, End: time.Now()}
		return err
	}
}

// Started returns the ids in the order their actions were called.
func (r *Recorder) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.started)
}

// Finished returns the ids in the order their actions returned.
func (r *Recorder) Finished() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.finished)
}

// Runs returns how many times id ran.
func (r *Recorder) Runs(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

// Record returns the timing of the last run of id.
func (r *Recorder) Record(id string) (ExecutionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// MaxConcurrent returns the highest number of actions seen running at once.
func (r *Recorder) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRunning
}
