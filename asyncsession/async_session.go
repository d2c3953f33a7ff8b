// Package asyncsession tracks asynchronous work on behalf of an owning
// operation (e.g. one scan, one request batch). Work units register an event
// with a finalizer; teardown is routed through the session so it runs only
// when the session's quiescence rules allow it. Watcher tokens let the
// session owner hold back finalization while related work is still pending.
package asyncsession

import (
	"sync"

	"github.com/cyberinferno/go-async-tcp/logger"
)

// Finalizer releases the resources of one registered event. It runs at most
// once, either when the event is removed (and its watcher is quiescent) or
// when the session is destroyed.
type Finalizer func()

// Event is one unit of asynchronous work registered with a Session.
type Event struct {
	name    string
	fin     Finalizer
	watcher *Watcher
	fired   bool
	removed bool
}

// Watcher is a hold token handed out by a Session. While a watcher has
// pushed holds, removal of events bound to it is deferred; the pending
// finalizers run when the last hold is popped.
type Watcher struct {
	session *Session
	holds   int
	pending []*Event
}

// Session tracks registered events and mediates their teardown. The zero
// value is not usable; create sessions with NewSession. All methods are safe
// for concurrent use. Finalizers are invoked without any session lock held,
// so they may call back into the session.
type Session struct {
	mu        sync.Mutex
	events    map[*Event]struct{}
	watcher   *Watcher
	destroyed bool
	log       logger.Logger
}

// NewSession creates an empty session.
//
// Parameters:
//   - log: Optional logger for event lifecycle entries; nil disables logging
//
// Returns:
//   - A new *Session
func NewSession(log logger.Logger) *Session {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Session{
		events: make(map[*Event]struct{}),
		log:    log,
	}
}

// AddEvent registers a unit of asynchronous work with the session. The
// finalizer runs exactly once: on RemoveEvent (possibly deferred by the
// watcher) or on Destroy, whichever comes first.
//
// Parameters:
//   - name: Short description of the work, used in log entries
//   - w: Optional watcher to bind the event to; nil means removal is never deferred
//   - fin: The finalizer releasing the work's resources
//
// Returns:
//   - The registered *Event, or nil if the session is already destroyed
func (s *Session) AddEvent(name string, w *Watcher, fin Finalizer) *Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil
	}

	e := &Event{name: name, fin: fin, watcher: w}
	s.events[e] = struct{}{}
	s.log.Debug("session event added", logger.Field{Key: "event", Value: name})

	return e
}

// RemoveEvent unregisters an event. The finalizer runs immediately unless
// the event's watcher still has holds, in which case it runs when the last
// hold is popped. Removing a nil, foreign, or already-removed event is a
// safe no-op.
//
// Parameters:
//   - e: The event returned by AddEvent
func (s *Session) RemoveEvent(e *Event) {
	if e == nil {
		return
	}

	s.mu.Lock()
	if _, ok := s.events[e]; !ok || e.removed {
		s.mu.Unlock()
		return
	}

	e.removed = true
	delete(s.events, e)

	if e.watcher != nil && e.watcher.holds > 0 {
		e.watcher.pending = append(e.watcher.pending, e)
		s.log.Debug("session event removal deferred", logger.Field{Key: "event", Value: e.name})
		s.mu.Unlock()
		return
	}

	fin := s.takeFinalizer(e)
	s.mu.Unlock()

	if fin != nil {
		fin()
	}
}

// Watcher returns the session's current hold token, creating it on first
// use. All work units sharing the session share the token, so one
// outstanding hold defers the finalization of every event bound to it.
//
// Returns:
//   - The session's *Watcher
func (s *Session) Watcher() *Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher == nil {
		s.watcher = &Watcher{session: s}
	}

	return s.watcher
}

// Destroy removes every remaining event and runs its finalizer, regardless
// of watcher holds. Each finalizer still runs at most once. Safe to call
// multiple times; later calls are no-ops.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	s.destroyed = true

	var fins []Finalizer
	for e := range s.events {
		e.removed = true
		if fin := s.takeFinalizer(e); fin != nil {
			fins = append(fins, fin)
		}
	}

	s.events = make(map[*Event]struct{})
	s.mu.Unlock()

	for _, fin := range fins {
		fin()
	}
}

// PendingEvents returns the number of events still registered.
//
// Returns:
//   - The count of events whose finalizers have not been scheduled
func (s *Session) PendingEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// takeFinalizer marks e fired and returns its finalizer once; caller must
// hold s.mu.
func (s *Session) takeFinalizer(e *Event) Finalizer {
	if e.fired {
		return nil
	}

	e.fired = true
	s.log.Debug("session event finalized", logger.Field{Key: "event", Value: e.name})

	return e.fin
}

// Push adds one hold to the watcher. Events bound to the watcher cannot
// finalize while holds are outstanding.
func (w *Watcher) Push() {
	w.session.mu.Lock()
	defer w.session.mu.Unlock()
	w.holds++
}

// Pop releases one hold. When the last hold is released, finalizers of
// events whose removal was deferred on this watcher run immediately.
// Popping with no holds is a safe no-op.
func (w *Watcher) Pop() {
	w.session.mu.Lock()

	if w.holds > 0 {
		w.holds--
	}

	var fins []Finalizer
	if w.holds == 0 {
		for _, e := range w.pending {
			if fin := w.session.takeFinalizer(e); fin != nil {
				fins = append(fins, fin)
			}
		}

		w.pending = nil
	}

	w.session.mu.Unlock()

	for _, fin := range fins {
		fin()
	}
}

// Holds returns the number of outstanding holds on the watcher.
//
// Returns:
//   - The current hold count
func (w *Watcher) Holds() int {
	w.session.mu.Lock()
	defer w.session.mu.Unlock()
	return w.holds
}
