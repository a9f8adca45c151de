package profits

import (
	"context"
	"sync"
)

// ViewSessions tags builds per view with a generation number. Starting a new
// build for a view cancels the build it supersedes, and a superseded build's
// result is never handed back.
type ViewSessions struct {
	mu    sync.Mutex
	views map[string]*viewState
}

type viewState struct {
	generation uint64
	cancel     context.CancelFunc
}

// NewViewSessions returns an empty tracker.
func NewViewSessions() *ViewSessions {
	return &ViewSessions{views: make(map[string]*viewState)}
}

// Ticket identifies one build of a view.
type Ticket struct {
	sessions   *ViewSessions
	view       string
	generation uint64
	cancel     context.CancelFunc
}

// Begin opens a new generation for view and cancels the previous one.
func (v *ViewSessions) Begin(ctx context.Context, view string) (context.Context, *Ticket) {
	ctx, cancel := context.WithCancel(ctx)
	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.views[view]
	if !ok {
		state = &viewState{}
		v.views[view] = state
	} else if state.cancel != nil {
		state.cancel()
	}
	state.generation++
	state.cancel = cancel
	return ctx, &Ticket{sessions: v, view: view, generation: state.generation, cancel: cancel}
}

// Current reports whether no newer generation has started for the view.
func (t *Ticket) Current() bool {
	t.sessions.mu.Lock()
	defer t.sessions.mu.Unlock()
	state, ok := t.sessions.views[t.view]
	return ok && state.generation == t.generation
}

// Finish releases the ticket's context and forgets the view when this
// ticket is still its latest generation.
func (t *Ticket) Finish() {
	t.cancel()
	t.sessions.mu.Lock()
	defer t.sessions.mu.Unlock()
	if state, ok := t.sessions.views[t.view]; ok && state.generation == t.generation {
		delete(t.sessions.views, t.view)
	}
}
