package dedup

import (
	"sort"
	"sync"
	"time"
)

// DefaultNamespace is used when a source has no namespace mapping.
const DefaultNamespace = "default"

// Namespaces manages independent Deduplicators, one per namespace, so
// separate feeds can be tracked without sharing keys.
type Namespaces struct {
	mu      sync.RWMutex
	dedups  map[string]*Deduplicator
	cfg     Config
	nowFunc func() time.Time
}

// NewNamespaces creates an empty registry.
func NewNamespaces(cfg Config) *Namespaces {
	return &Namespaces{
		dedups:  make(map[string]*Deduplicator),
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// Get returns the Deduplicator for name, creating one if needed. An empty
// name maps to DefaultNamespace.
func (n *Namespaces) Get(name string) *Deduplicator {
	if name == "" {
		name = DefaultNamespace
	}

	n.mu.RLock()
	d, ok := n.dedups[name]
	n.mu.RUnlock()
	if ok {
		return d
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if d, ok = n.dedups[name]; ok {
		return d
	}
	d = New(n.cfg)
	d.nowFunc = n.nowFunc
	n.dedups[name] = d
	return d
}

// Names returns every known namespace in sorted order.
func (n *Namespaces) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.dedups))
	for name := range n.dedups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EvictAll runs Evict on every namespace.
func (n *Namespaces) EvictAll() map[string]EvictResult {
	out := make(map[string]EvictResult)
	for _, name := range n.Names() {
		out[name] = n.Get(name).Evict()
	}
	return out
}

// AllStats returns Stats keyed by namespace.
func (n *Namespaces) AllStats() map[string]Stats {
	out := make(map[string]Stats)
	for _, name := range n.Names() {
		out[name] = n.Get(name).Stats()
	}
	return out
}
