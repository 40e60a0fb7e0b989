// Package orchestrator implements the VRAM Orchestrator (spec §4.E): the
// central admission controller that ensures a model is resident before a
// worker generates against it, evicting lower-priority models under
// pressure and consulting the crash tracker's circuit breaker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/crashtracker"
	"github.com/modelgateway/inference-gateway/pkg/engineadapter"
	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"github.com/modelgateway/inference-gateway/pkg/registry"
	"github.com/modelgateway/inference-gateway/pkg/vramprobe"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultSafetyMarginGB is added to a model's declared footprint before
// computing required headroom, absorbing estimation error.
const DefaultSafetyMarginGB = 0.5

// DefaultLargeModelThresholdGB is the declared-footprint boundary above
// which a cleanup hint is issued to the engine after admission, per §4.E
// step 7.
const DefaultLargeModelThresholdGB = 20.0

// ProfileResolver resolves a model name to its descriptor, as loaded from
// the active profile.
type ProfileResolver interface {
	Resolve(model string) (gwtypes.ModelDescriptor, bool)
}

// AlternateResolver picks a substitute model when the requested model's
// circuit is open and the caller did not set BypassIfCircuitOpen. It is the
// Profile Manager's sole responsibility named in §4.D/§4.E (see
// SPEC_FULL.md §C).
type AlternateResolver interface {
	ResolveAlternate(model string) (string, bool)
}

// LoadParams carries the caller's load request options.
type LoadParams struct {
	BypassIfCircuitOpen bool
	Temperature         *float64
	AdditionalArgs      []string
}

// Status is the snapshot returned by GetStatus, combining probe, registry,
// and crash summaries for the admin endpoint (§6).
type Status struct {
	Probe    vramprobe.Reading
	Models   []registry.Entry
	SoftGB   float64
	HardGB   float64
	CrashLog map[string]crashtracker.History
}

// Orchestrator is the central admission controller. Safe for concurrent use.
type Orchestrator struct {
	log logging.Logger

	profile   ProfileResolver
	alternate AlternateResolver
	registry  *registry.Registry
	crashes   *crashtracker.Tracker
	probe     vramprobe.SystemMemoryInfo
	adapters  map[gwtypes.BackendKind]engineadapter.Adapter

	softLimitGB           float64
	hardLimitGB           float64
	safetyMarginGB        float64
	largeModelThresholdGB float64

	// mu is the process-wide orchestrator mutex held across steps 4-8 of
	// request_load and throughout reconcile, per §4.E's ordering note.
	mu sync.Mutex

	reconcileDrift prometheus.Counter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSafetyMargin overrides DefaultSafetyMarginGB.
func WithSafetyMargin(gb float64) Option {
	return func(o *Orchestrator) { o.safetyMarginGB = gb }
}

// WithLargeModelThreshold overrides DefaultLargeModelThresholdGB.
func WithLargeModelThreshold(gb float64) Option {
	return func(o *Orchestrator) { o.largeModelThresholdGB = gb }
}

// WithAlternateResolver installs the Profile Manager's alternate-model
// resolution hook.
func WithAlternateResolver(r AlternateResolver) Option {
	return func(o *Orchestrator) { o.alternate = r }
}

// WithReconcileDriftCounter installs the Prometheus counter incremented on
// every silent reconciliation removal (SPEC_FULL.md §C).
func WithReconcileDriftCounter(c prometheus.Counter) Option {
	return func(o *Orchestrator) { o.reconcileDrift = c }
}

// New creates an Orchestrator. adapters maps each backend kind to the
// engine adapter instance responsible for it.
func New(
	log logging.Logger,
	profile ProfileResolver,
	reg *registry.Registry,
	crashes *crashtracker.Tracker,
	probe vramprobe.SystemMemoryInfo,
	adapters map[gwtypes.BackendKind]engineadapter.Adapter,
	softLimitGB, hardLimitGB float64,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		log:                   log,
		profile:               profile,
		registry:              reg,
		crashes:               crashes,
		probe:                 probe,
		adapters:              adapters,
		softLimitGB:           softLimitGB,
		hardLimitGB:           hardLimitGB,
		safetyMarginGB:        DefaultSafetyMarginGB,
		largeModelThresholdGB: DefaultLargeModelThresholdGB,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnCrashThresholdCrossed implements crashtracker.Observer. The
// orchestrator itself takes no direct action on a crossing beyond what
// request_load already observes via CircuitOpen; this registration exists
// so future observers (metrics, logging) can be layered without the
// tracker calling back into orchestrator internals, per §9's cyclic-graph
// note.
func (o *Orchestrator) OnCrashThresholdCrossed(evt crashtracker.Event) {
	if o.log != nil {
		o.log.WithField("model", evt.Model).WithField("count", evt.Count).
			Warnf("circuit breaker tripped: %s", evt.Reason)
	}
}

func (o *Orchestrator) adapterFor(d gwtypes.ModelDescriptor) (engineadapter.Adapter, error) {
	a, ok := o.adapters[d.Backend]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for backend %q", d.Backend)
	}
	return a, nil
}

// RequestLoad ensures model is resident, evicting lower-priority models as
// needed. Implements the eight-step protocol of §4.E.
func (o *Orchestrator) RequestLoad(ctx context.Context, model string, params LoadParams) error {
	// Step 1: resolve descriptor.
	desc, ok := o.profile.Resolve(model)
	if !ok {
		return fmt.Errorf("%w: %s", gwtypes.ErrUnknownModel, model)
	}

	// Step 2: non-dynamically-loadable engines record intent only.
	if !desc.DynamicallyLoadable() {
		return nil
	}

	// Step 3: circuit breaker.
	if o.crashes.CircuitOpen(model) {
		if params.BypassIfCircuitOpen {
			return fmt.Errorf("%w: %s", gwtypes.ErrCircuitOpen, model)
		}
		if o.alternate != nil {
			if alt, ok := o.alternate.ResolveAlternate(model); ok && alt != model {
				return o.RequestLoad(ctx, alt, params)
			}
		}
		return fmt.Errorf("%w: %s", gwtypes.ErrCircuitOpen, model)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.registry.Contains(model) {
		return nil
	}

	adapter, err := o.adapterFor(desc)
	if err != nil {
		return err
	}

	// Step 4: required headroom.
	required := desc.VRAMGB + o.safetyMarginGB

	// Step 5: free_for_models.
	probeReading, perr := o.probe.Read(ctx)
	probeUsed := 0.0
	if perr == nil {
		probeUsed = probeReading.UsedGB
	}
	declared := o.registry.TotalDeclaredGB()
	used := declared
	if probeUsed > used {
		used = probeUsed
	}
	freeForModels := o.softLimitGB - used
	if freeForModels < 0 {
		freeForModels = 0
	}

	// Step 6: eviction loop.
	for freeForModels < required {
		candidate, hasCandidate := o.registry.LRUByPriority(desc.Priority)
		if !hasCandidate {
			projected := used + required
			if projected > o.hardLimitGB {
				return fmt.Errorf("%w: %s requires %.2fGB, only %.2fGB free under hard limit %.2fGB",
					gwtypes.ErrInsufficientVRAM, model, required, o.hardLimitGB-used, o.hardLimitGB)
			}
			break
		}

		candidateEntry, found := o.registry.Get(candidate)
		if !found {
			continue
		}
		candidateAdapter, aerr := o.adapterFor(candidateEntry.Descriptor)
		if aerr != nil {
			_ = o.registry.Remove(candidate)
			continue
		}

		if uerr := candidateAdapter.Unload(ctx, candidate); uerr != nil {
			o.crashes.Record(candidate, uerr.Error())
			continue
		}
		_ = o.registry.Remove(candidate)
		used -= candidateEntry.Descriptor.VRAMGB
		if used < 0 {
			used = 0
		}
		freeForModels = o.softLimitGB - used
		if freeForModels < 0 {
			freeForModels = 0
		}
	}

	// Step 7: cleanup hint for large models.
	if desc.VRAMGB >= o.largeModelThresholdGB {
		if cerr := adapter.Cleanup(ctx); cerr != nil && o.log != nil {
			o.log.WithError(cerr).Warnf("cleanup hint failed for %s", model)
		}
	}

	// Step 8: load.
	loadParams := engineadapter.LoadParams{Temperature: params.Temperature, AdditionalArgs: params.AdditionalArgs}
	if lerr := adapter.Load(ctx, model, loadParams); lerr != nil {
		var engErr *gwtypes.EngineError
		if errors.As(lerr, &engErr) && engErr.IsCrash() {
			o.crashes.Record(model, lerr.Error())
		}
		return lerr
	}

	if aerr := o.registry.Add(model, desc); aerr != nil && !errors.Is(aerr, gwtypes.ErrAlreadyPresent) {
		return aerr
	}
	return nil
}

// MarkAccessed touches model in the registry. Called by the worker
// immediately before a generation.
func (o *Orchestrator) MarkAccessed(model string) {
	_ = o.registry.Touch(model)
}

// MarkUnloaded removes model from the registry and, if crashed, records a
// crash observation with reason. It does not call the engine adapter: it
// exists for the case where the engine has already released the model
// itself (a crash the adapter observed independently), so issuing a second
// Unload would be redundant.
func (o *Orchestrator) MarkUnloaded(model string, crashed bool, reason string) {
	_ = o.registry.Remove(model)
	if crashed {
		o.crashes.Record(model, reason)
	}
}

// Evict unloads model on its engine adapter, then removes it from the
// registry, for an admin-requested eviction (§6's POST /internal/vram/evict)
// rather than a crash. Mirrors the adapter.Unload/registry.Remove pairing
// RequestLoad's own eviction loop performs internally, so a victim actually
// releases its VRAM instead of merely being forgotten by the registry.
func (o *Orchestrator) Evict(ctx context.Context, model, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.registry.Get(model)
	if !ok {
		return fmt.Errorf("%w: %s", gwtypes.ErrNotPresent, model)
	}

	adapter, err := o.adapterFor(entry.Descriptor)
	if err != nil {
		return err
	}
	if uerr := adapter.Unload(ctx, model); uerr != nil {
		o.crashes.Record(model, uerr.Error())
		return uerr
	}

	_ = o.registry.Remove(model)
	if o.log != nil {
		o.log.WithField("model", model).Infof("evicted: %s", reason)
	}
	return nil
}

// GetStatus returns a combined probe/registry/crash snapshot.
func (o *Orchestrator) GetStatus(ctx context.Context) (Status, error) {
	reading, err := o.probe.Read(ctx)
	if err != nil {
		return Status{}, err
	}
	entries := o.registry.Snapshot()
	crashLog := make(map[string]crashtracker.History, len(entries))
	for _, e := range entries {
		crashLog[e.Name] = o.crashes.History(e.Name)
	}
	return Status{
		Probe:    reading,
		Models:   entries,
		SoftGB:   o.softLimitGB,
		HardGB:   o.hardLimitGB,
		CrashLog: crashLog,
	}, nil
}

// Reconcile reconciles registry state against each engine adapter's ground
// truth. Shares the orchestrator mutex with RequestLoad; reconcile never
// pre-empts a load.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for backend, adapter := range o.adapters {
		loaded, err := adapter.ListLoaded(ctx)
		if err != nil {
			if o.log != nil {
				o.log.WithError(err).Warnf("reconcile: list_loaded failed for backend %s", backend)
			}
			continue
		}

		for name := range loaded {
			if o.registry.Contains(name) {
				continue
			}
			desc, ok := o.profile.Resolve(name)
			if !ok || desc.Backend != backend {
				continue
			}
			_ = o.registry.Add(name, desc)
		}

		for _, entry := range o.registry.Snapshot() {
			if entry.Descriptor.Backend != backend {
				continue
			}
			if _, stillLoaded := loaded[entry.Name]; stillLoaded {
				continue
			}
			_ = o.registry.Remove(entry.Name)
			if o.log != nil {
				o.log.WithField("model", entry.Name).Warnf("reconcile: registry entry not reported by engine, removing")
			}
			if o.reconcileDrift != nil {
				o.reconcileDrift.Inc()
			}
		}
	}
	return nil
}

// RunReconciler runs Reconcile on a fixed interval until ctx is cancelled.
func (o *Orchestrator) RunReconciler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.Reconcile(ctx); err != nil && o.log != nil {
				o.log.WithError(err).Warnf("reconcile pass failed")
			}
		}
	}
}
