package giftcard

import (
	"context"
	"sync"
	"time"
)

// Workspace is one browser session: its selected files and its latest batch
type Workspace struct {
	ID string

	mu       sync.Mutex
	files    []*File
	run      *run
	banner   string
	lastSeen time.Time
}

// run is one batch. Its results slice has one slot per file, in selection order,
// and each slot is resolved at most once.
type run struct {
	results []Result
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// snapshot copies the workspace state; callers must hold ws.mu
func (ws *Workspace) snapshot() Snapshot {
	snap := Snapshot{
		Files:   make([]File, 0, len(ws.files)),
		Results: []Result{},
		Error:   ws.banner,
	}
	for _, f := range ws.files {
		snap.Files = append(snap.Files, *f)
	}
	if ws.run != nil {
		snap.Results = append(snap.Results, ws.run.results...)
		snap.Running = ws.run.running
	}
	snap.Progress = Progress(snap.Results)
	return snap
}

// running reports whether a batch is in flight; callers must hold ws.mu
func (ws *Workspace) running() bool {
	return ws.run != nil && ws.run.running
}

// findFile returns the selected file with id; callers must hold ws.mu
func (ws *Workspace) findFile(id string) *File {
	for _, f := range ws.files {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// hasResult reports whether id belongs to the current batch; callers must hold ws.mu
func (ws *Workspace) hasResult(id string) bool {
	if ws.run == nil {
		return false
	}
	for _, r := range ws.run.results {
		if r.ID == id {
			return true
		}
	}
	return false
}
