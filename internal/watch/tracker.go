package watch

import (
	"time"

	"github.com/sweeney/homer-callflow/internal/correlator"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Change is a call whose status differs from the one last reported.
type Change struct {
	Call correlator.CallSummary
	// Previous is empty the first time a call is seen.
	Previous  correlator.Status
	Timestamp time.Time
}

// trackedCall is what the tracker remembers between polls.
type trackedCall struct {
	status   correlator.Status
	lastSeen time.Time
}

// Tracker remembers the last reported status of each call and emits a
// Change only when it moves. Calls absent from the polls for longer than
// the retention are forgotten.
type Tracker struct {
	calls     map[string]*trackedCall // keyed by call id
	clock     Clock
	retention time.Duration
}

// NewTracker creates a Tracker that forgets calls after retention.
func NewTracker(retention time.Duration) *Tracker {
	return &Tracker{
		calls:     make(map[string]*trackedCall),
		clock:     time.Now,
		retention: retention,
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source for the tracker.
func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// NewTrackerWithOptions creates a Tracker with the given options.
func NewTrackerWithOptions(retention time.Duration, opts ...Option) *Tracker {
	t := NewTracker(retention)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Process ingests one poll's call list and returns the status changes, in
// the order the calls were given.
func (t *Tracker) Process(calls []correlator.CallSummary) []Change {
	now := t.clock()
	var changes []Change

	for _, call := range calls {
		if call.CallID == "" {
			continue
		}

		tc, seen := t.calls[call.CallID]
		if !seen {
			tc = &trackedCall{}
			t.calls[call.CallID] = tc
		}
		tc.lastSeen = now

		if tc.status == call.Status {
			continue
		}
		changes = append(changes, Change{
			Call:      call,
			Previous:  tc.status,
			Timestamp: now,
		})
		tc.status = call.Status
	}

	t.prune(now)
	return changes
}

// Forget drops what is known about a call, so its current status is
// reported again on the next poll.
func (t *Tracker) Forget(callID string) {
	delete(t.calls, callID)
}

// ActiveCalls returns the number of calls currently remembered.
func (t *Tracker) ActiveCalls() int {
	return len(t.calls)
}

func (t *Tracker) prune(now time.Time) {
	if t.retention <= 0 {
		return
	}
	for id, tc := range t.calls {
		if now.Sub(tc.lastSeen) > t.retention {
			delete(t.calls, id)
		}
	}
}
