// Package sched fires order callbacks at computed times. Jobs are keyed by
// (orderID, kind): scheduling again replaces the previous job, cancelling is
// a no-op when nothing is pending.
package sched

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindReminder   Kind = "reminder"
	KindExpiration Kind = "expiration"
)

type jobKey struct {
	orderID string
	kind    Kind
}

type Scheduler struct {
	mu     sync.Mutex
	timers map[jobKey]*time.Timer
	closed bool
}

func New() *Scheduler {
	return &Scheduler{timers: make(map[jobKey]*time.Timer)}
}

// Schedule arms fn to run at fireAt. A fireAt in the past dispatches
// immediately (async) instead of silently dropping, which guards against
// clock skew and scheduling backlog.
func (s *Scheduler) Schedule(orderID string, kind Kind, fireAt time.Time, fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	key := jobKey{orderID, kind}
	if old, ok := s.timers[key]; ok {
		old.Stop()
		delete(s.timers, key)
	}

	delay := time.Until(fireAt)
	if delay <= 0 {
		s.mu.Unlock()
		go s.run(orderID, kind, fn)
		return
	}

	// the callback removes only its own entry: Schedule may have replaced
	// the job between the timer firing and the lock being acquired
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if cur, ok := s.timers[key]; ok && cur == t {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		s.run(orderID, kind, fn)
	})
	s.timers[key] = t
	s.mu.Unlock()
}

// Cancel stops the pending job of the given kind, if any.
func (s *Scheduler) Cancel(orderID string, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey{orderID, kind}
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// CancelAll stops every pending job of the order. Called whenever an order
// reaches a terminal state through any path.
func (s *Scheduler) CancelAll(orderID string) {
	s.Cancel(orderID, KindReminder)
	s.Cancel(orderID, KindExpiration)
}

// Pending reports whether a job of the given kind is still armed.
func (s *Scheduler) Pending(orderID string, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[jobKey{orderID, kind}]
	return ok
}

// Stop cancels all pending jobs and refuses further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

// run executes a callback, containing panics so a misbehaving job can never
// take the scheduler down with it.
func (s *Scheduler) run(orderID string, kind Kind, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("order_id", orderID).Str("kind", string(kind)).
				Msg("sched: job callback panicked")
		}
	}()
	fn()
}
