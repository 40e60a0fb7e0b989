// Package crashtracker implements the windowed per-model crash counter and
// circuit breaker described in spec §4.D. It publishes threshold-crossing
// events to observers (the orchestrator, the profile manager) rather than
// calling back into them, breaking the observer cycle noted in §9.
package crashtracker

import (
	"sync"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/logging"
)

const (
	// DefaultFailureThreshold is the crash count within the window that
	// trips the circuit breaker.
	DefaultFailureThreshold = 2
	// DefaultWindow is the sliding window over which crashes are counted.
	DefaultWindow = 300 * time.Second
	// maxRecordsPerModel bounds the per-model deque so a pathological
	// crash loop cannot grow memory unboundedly; old records are also
	// dropped by window on every access regardless.
	maxRecordsPerModel = 256
)

// Record is a single crash observation.
type Record struct {
	At     time.Time
	Reason string
}

// Event is published to observers exactly once per threshold crossing.
type Event struct {
	Model  string
	Count  int
	Reason string
}

// Observer receives threshold-crossing notifications.
type Observer interface {
	OnCrashThresholdCrossed(Event)
}

// History summarises a model's crash state for callers like GET /status.
type History struct {
	Count           int
	LastSecondsAgo  float64
	RecommendEvict  bool
}

// Tracker is the windowed crash counter. Safe for concurrent use.
type Tracker struct {
	log               logging.Logger
	failureThreshold  int
	window            time.Duration

	mu        sync.Mutex
	records   map[string][]Record
	// tripped remembers which models have already crossed the threshold
	// and still hold at least threshold records in the window (and have not
	// been Cleared since), so each crossing fires observers exactly once as
	// required by §4.D.
	tripped   map[string]bool
	observers []Observer
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithFailureThreshold overrides DefaultFailureThreshold.
func WithFailureThreshold(n int) Option {
	return func(t *Tracker) { t.failureThreshold = n }
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) { t.window = d }
}

// New creates a Tracker with the given observers and options.
func New(log logging.Logger, observers []Observer, opts ...Option) *Tracker {
	t := &Tracker{
		log:              log,
		failureThreshold: DefaultFailureThreshold,
		window:           DefaultWindow,
		records:          make(map[string][]Record),
		tripped:          make(map[string]bool),
		observers:        observers,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// prune drops records older than the window. Caller must hold mu.
func (t *Tracker) prune(model string, now time.Time) []Record {
	recs := t.records[model]
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(recs) && recs[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		recs = append([]Record(nil), recs[i:]...)
		t.records[model] = recs
	}
	return recs
}

// Record appends a crash observation for model, drops stale records, and
// fires observers exactly once per threshold crossing.
func (t *Tracker) Record(model, reason string) {
	t.mu.Lock()

	now := time.Now()
	recs := t.prune(model, now)
	if len(recs) < t.failureThreshold {
		// Earlier records have aged out below the threshold, so reaching
		// it again is a new crossing.
		t.tripped[model] = false
	}
	recs = append(recs, Record{At: now, Reason: reason})
	if len(recs) > maxRecordsPerModel {
		recs = recs[len(recs)-maxRecordsPerModel:]
	}
	t.records[model] = recs

	count := len(recs)
	shouldFire := count >= t.failureThreshold && !t.tripped[model]
	if shouldFire {
		t.tripped[model] = true
	}
	observers := t.observers
	t.mu.Unlock()

	if t.log != nil {
		t.log.WithField("model", model).WithField("count", count).Warnf("crash recorded: %s", reason)
	}

	if shouldFire {
		evt := Event{Model: model, Count: count, Reason: reason}
		for _, obs := range observers {
			obs.OnCrashThresholdCrossed(evt)
		}
	}
}

// History returns the current crash summary for model.
func (t *Tracker) History(model string) History {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	recs := t.prune(model, now)
	if len(recs) == 0 {
		return History{}
	}
	last := recs[len(recs)-1]
	return History{
		Count:          len(recs),
		LastSecondsAgo: now.Sub(last.At).Seconds(),
		RecommendEvict: len(recs) >= t.failureThreshold,
	}
}

// CircuitOpen reports whether model's circuit is currently tripped: the
// threshold has been crossed and Clear has not been called since, and at
// least threshold records remain within the window (once enough records age
// out of the window the circuit reads as closed again).
func (t *Tracker) CircuitOpen(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	recs := t.prune(model, now)
	if len(recs) == 0 {
		t.tripped[model] = false
		return false
	}
	return t.tripped[model] && len(recs) >= t.failureThreshold
}

// AddObserver registers an additional observer after construction, letting
// callers break the constructor-time cycle between the tracker and an
// observer that itself needs the tracker (the orchestrator, per §9).
func (t *Tracker) AddObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// RecordSyntheticFailure implements queue.CircuitSignaler: the visibility
// monitor calls this when a request exhausts its retries, attributing the
// timeout to the model it was bound for so repeated visibility timeouts can
// also trip the circuit breaker.
func (t *Tracker) RecordSyntheticFailure(model, reason string) {
	if model == "" {
		return
	}
	t.Record(model, reason)
}

// Clear erases history for model, closing its circuit.
func (t *Tracker) Clear(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, model)
	delete(t.tripped, model)
}
