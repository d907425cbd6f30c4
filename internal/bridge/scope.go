package bridge

import (
	"context"
	"sync"
)

type scopeState uint8

const (
	scopeActive scopeState = iota
	scopeFinished
	scopeCancelled
)

// Scope is one node in an explicit cancellation tree.
//
// Cancelling a scope cancels all of its descendants via a depth-first
// walk; ancestors and siblings are never touched. A scope that finishes
// normally detaches from its parent so long-lived parents (worker queues
// are unbounded) do not accumulate dead children.
//
// Failures reported into a scope go to the tree's error sink and nothing
// else: supervisor semantics, a bad task never tears down its siblings.
type Scope struct {
	mu       sync.Mutex
	state    scopeState
	parent   *Scope
	children map[uint64]*Scope
	id       uint64
	nextID   uint64

	ctx       context.Context
	cancelCtx context.CancelFunc

	sink ErrorHandler
}

func newRootScope(sink ErrorHandler) *Scope {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scope{ctx: ctx, cancelCtx: cancel, sink: sink}
}

// Child creates a new scope under s. A child of an inactive scope is born
// cancelled, so work attached to it never starts.
func (s *Scope) Child() *Scope {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Scope{parent: s, ctx: ctx, cancelCtx: cancel, sink: s.sink}

	s.mu.Lock()
	if s.state != scopeActive {
		s.mu.Unlock()
		c.Cancel()
		return c
	}
	s.nextID++
	c.id = s.nextID
	if s.children == nil {
		s.children = make(map[uint64]*Scope)
	}
	s.children[c.id] = c
	s.mu.Unlock()
	return c
}

// Active reports whether s has neither finished nor been cancelled.
func (s *Scope) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == scopeActive
}

// Context is cancelled as soon as the scope is no longer active. It is
// what blocking waits (timer sleeps) select on.
func (s *Scope) Context() context.Context { return s.ctx }

// Cancel marks s cancelled and walks all descendants depth-first.
// Idempotent; cancelling a finished scope is a no-op.
func (s *Scope) Cancel() {
	s.mu.Lock()
	if s.state != scopeActive {
		s.mu.Unlock()
		return
	}
	s.state = scopeCancelled
	kids := make([]*Scope, 0, len(s.children))
	for _, c := range s.children {
		kids = append(kids, c)
	}
	s.children = nil
	s.mu.Unlock()

	s.cancelCtx()
	for _, c := range kids {
		c.Cancel()
	}
	s.detach()
}

// finish marks normal completion. Children are unaffected (a finished
// task scope has none anyway).
func (s *Scope) finish() {
	s.mu.Lock()
	if s.state != scopeActive {
		s.mu.Unlock()
		return
	}
	s.state = scopeFinished
	s.mu.Unlock()

	s.cancelCtx()
	s.detach()
}

func (s *Scope) detach() {
	p := s.parent
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.children != nil {
		delete(p.children, s.id)
	}
	p.mu.Unlock()
}

// report forwards a task-body failure to the tree's error sink.
func (s *Scope) report(err error) {
	if s.sink != nil && err != nil {
		s.sink(err)
	}
}

// scopeHandle exposes a Scope through the Handle interface.
type scopeHandle struct{ s *Scope }

func (h scopeHandle) Cancel()        { h.s.Cancel() }
func (h scopeHandle) Disposed() bool { return !h.s.Active() }

type disposedHandle struct{}

func (disposedHandle) Cancel()        {}
func (disposedHandle) Disposed() bool { return true }

// DisposedHandle returns an inert, already-disposed Handle. Schedulers
// hand it out for submissions that arrive after shutdown.
func DisposedHandle() Handle { return disposedHandle{} }
