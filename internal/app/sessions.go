package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type session struct {
	w        *Wizard
	cancel   context.CancelFunc
	lastSeen time.Time
}

// Sessions holds live wizards by id. Each session owns a context that is
// canceled when it is removed, stopping its background workers.
type Sessions struct {
	clock Clock

	mu sync.Mutex
	m  map[string]*session
}

func NewSessions(clock Clock) *Sessions {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Sessions{clock: clock, m: map[string]*session{}}
}

func (s *Sessions) Add(w *Wizard, cancel context.CancelFunc) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.m[id] = &session{w: w, cancel: cancel, lastSeen: s.clock.Now()}
	s.mu.Unlock()
	return id
}

func (s *Sessions) Get(id string) (*Wizard, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.m[id]
	if !ok {
		return nil, false
	}
	ss.lastSeen = s.clock.Now()
	return ss.w, true
}

func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	ss, ok := s.m[id]
	delete(s.m, id)
	s.mu.Unlock()
	if ok && ss.cancel != nil {
		ss.cancel()
	}
	return ok
}

// Sweep drops sessions idle for longer than maxIdle and returns how many.
func (s *Sessions) Sweep(maxIdle time.Duration) int {
	cutoff := s.clock.Now().Add(-maxIdle)
	var stale []*session
	s.mu.Lock()
	for id, ss := range s.m {
		if ss.lastSeen.Before(cutoff) {
			stale = append(stale, ss)
			delete(s.m, id)
		}
	}
	s.mu.Unlock()
	for _, ss := range stale {
		if ss.cancel != nil {
			ss.cancel()
		}
	}
	return len(stale)
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Close cancels every session.
func (s *Sessions) Close() {
	s.mu.Lock()
	all := s.m
	s.m = map[string]*session{}
	s.mu.Unlock()
	for _, ss := range all {
		if ss.cancel != nil {
			ss.cancel()
		}
	}
}
