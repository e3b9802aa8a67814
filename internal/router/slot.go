package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAborted is the cancellation cause for an operation pre-empted by a
	// newer one or cancelled explicitly. Both causes below wrap it.
	ErrAborted = errors.New("router: command aborted")
	// ErrPreempted means a newer command took the slot.
	ErrPreempted = fmt.Errorf("%w: superseded by a newer command", ErrAborted)
	// ErrCancelled means the command was cancelled on request.
	ErrCancelled = fmt.Errorf("%w: cancelled on request", ErrAborted)
)

// OperationSlot holds the cancellation handle of the in-flight code
// command. Start cancels whatever the slot held before; the returned
// release func clears the slot if it still holds this operation.
type OperationSlot interface {
	Start(ctx context.Context, key string) (context.Context, func())
	Cancel(key string) bool
}

type slotEntry struct {
	gen    uint64
	cancel context.CancelCauseFunc
}

// GlobalSlot is a single process-wide slot: starting a command for any key
// aborts the command running for every other key.
type GlobalSlot struct {
	mu  sync.Mutex
	gen uint64
	cur *slotEntry
}

// NewGlobalSlot returns an empty global slot.
func NewGlobalSlot() *GlobalSlot { return &GlobalSlot{} }

func (s *GlobalSlot) Start(ctx context.Context, _ string) (context.Context, func()) {
	opCtx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	if s.cur != nil {
		s.cur.cancel(ErrPreempted)
	}
	s.gen++
	e := &slotEntry{gen: s.gen, cancel: cancel}
	s.cur = e
	s.mu.Unlock()

	return opCtx, func() {
		s.mu.Lock()
		if s.cur != nil && s.cur.gen == e.gen {
			s.cur = nil
		}
		s.mu.Unlock()
		cancel(nil)
	}
}

// Cancel aborts the in-flight command regardless of key. It reports whether
// one was running.
func (s *GlobalSlot) Cancel(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return false
	}
	s.cur.cancel(ErrCancelled)
	s.cur = nil
	return true
}

// PerKeySlot keeps one slot per key, so commands from different principals
// do not pre-empt each other.
type PerKeySlot struct {
	mu    sync.Mutex
	gen   uint64
	slots map[string]*slotEntry
}

// NewPerKeySlot returns an empty per-key slot.
func NewPerKeySlot() *PerKeySlot {
	return &PerKeySlot{slots: make(map[string]*slotEntry)}
}

func (s *PerKeySlot) Start(ctx context.Context, key string) (context.Context, func()) {
	opCtx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	if prev, ok := s.slots[key]; ok {
		prev.cancel(ErrPreempted)
	}
	s.gen++
	e := &slotEntry{gen: s.gen, cancel: cancel}
	s.slots[key] = e
	s.mu.Unlock()

	return opCtx, func() {
		s.mu.Lock()
		if cur, ok := s.slots[key]; ok && cur.gen == e.gen {
			delete(s.slots, key)
		}
		s.mu.Unlock()
		cancel(nil)
	}
}

func (s *PerKeySlot) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.slots[key]
	if !ok {
		return false
	}
	e.cancel(ErrCancelled)
	delete(s.slots, key)
	return true
}
