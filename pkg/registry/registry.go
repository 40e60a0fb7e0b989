// Package registry implements the Model Registry (spec §4.C): an in-memory,
// LRU-ordered map of models believed resident in engine VRAM. It is the
// orchestrator's exclusive state; no other component mutates it directly.
package registry

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
)

// Entry is a single registry entry: a model name paired with its descriptor
// and residency timestamps.
type Entry struct {
	Name         string
	Descriptor   gwtypes.ModelDescriptor
	LastAccessed time.Time
	LoadedAt     time.Time
}

// element is the payload stored in the backing list; list.List gives us
// O(1) move-to-back (touch) and O(1) removal from the front (LRU victim
// scan), which is what lru_by_priority needs once combined with the index.
type element struct {
	entry Entry
}

// Registry is the ordered, LRU-ordered mapping from model name to registry
// entry. All methods are serialised by a single mutex, per §4.C.
type Registry struct {
	mu    sync.Mutex
	order *list.List // front = LRU (least-recently-accessed), back = MRU
	index map[string]*list.Element
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Add inserts a new entry at the MRU end. Returns ErrAlreadyPresent if the
// model is already resident.
func (r *Registry) Add(name string, descriptor gwtypes.ModelDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[name]; ok {
		return fmt.Errorf("add %s: %w", name, gwtypes.ErrAlreadyPresent)
	}

	now := time.Now()
	el := r.order.PushBack(&element{entry: Entry{
		Name:         name,
		Descriptor:   descriptor,
		LastAccessed: now,
		LoadedAt:     now,
	}})
	r.index[name] = el
	return nil
}

// Touch moves the entry to the MRU end and refreshes LastAccessed. Returns
// ErrNotPresent if the model is not resident.
func (r *Registry) Touch(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.index[name]
	if !ok {
		return fmt.Errorf("touch %s: %w", name, gwtypes.ErrNotPresent)
	}
	el.Value.(*element).entry.LastAccessed = time.Now()
	r.order.MoveToBack(el)
	return nil
}

// Remove deletes the entry. Returns ErrNotPresent if the model is not
// resident.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.index[name]
	if !ok {
		return fmt.Errorf("remove %s: %w", name, gwtypes.ErrNotPresent)
	}
	r.order.Remove(el)
	delete(r.index, name)
	return nil
}

// Contains reports whether name is currently resident.
func (r *Registry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[name]
	return ok
}

// Get returns a copy of the entry for name, if present.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.index[name]
	if !ok {
		return Entry{}, false
	}
	return el.Value.(*element).entry, true
}

// LRUByPriority returns the least-recently-accessed entry whose priority is
// strictly lower than maxPriority, or ("", false) if no such entry exists.
// Ties (equal LastAccessed — possible under low clock resolution) are
// broken by older LoadedAt, per §4.C.
//
// Per the mandated "strictly lower" eviction rule (§8 scenario 3), callers
// wanting to evict on behalf of a model of priority P must pass P itself;
// this method already applies the strict inequality so candidates of equal
// priority are never returned.
func (r *Registry) LRUByPriority(maxPriority gwtypes.Priority) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *element
	for el := r.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*element)
		if e.entry.Descriptor.Priority >= maxPriority {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		if e.entry.LastAccessed.Before(best.entry.LastAccessed) {
			best = e
			continue
		}
		if e.entry.LastAccessed.Equal(best.entry.LastAccessed) &&
			e.entry.LoadedAt.Before(best.entry.LoadedAt) {
			best = e
		}
	}
	if best == nil {
		return "", false
	}
	return best.entry.Name, true
}

// TotalDeclaredGB sums the declared VRAM footprint of all resident models.
func (r *Registry) TotalDeclaredGB() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total float64
	for el := r.order.Front(); el != nil; el = el.Next() {
		total += el.Value.(*element).entry.Descriptor.VRAMGB
	}
	return total
}

// Snapshot returns an ordered copy of all entries, LRU-first, for
// observability endpoints. It never aliases internal state.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*element).entry)
	}
	return out
}

// Len returns the number of resident models.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
