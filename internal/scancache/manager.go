package scancache

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/anstrom/scancache/internal/errors"
)

// Manager owns one Context per network interface. All contexts share the
// manager's scoring configuration.
type Manager struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	opts     Options
	scoring  *atomic.Pointer[ScoringConfig]
}

// NewManager creates a manager whose contexts are built with opts.
func NewManager(opts Options) *Manager {
	opts.setDefaults()
	scoring := &atomic.Pointer[ScoringConfig]{}
	cfg := DefaultScoringConfig()
	scoring.Store(&cfg)
	return &Manager{
		contexts: make(map[string]*Context),
		opts:     opts,
		scoring:  scoring,
	}
}

// Add creates the cache for iface.
func (m *Manager) Add(iface string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[iface]; ok {
		return nil, errors.ErrInterfaceExists(iface)
	}
	c := newContext(iface, m.opts, m.scoring)
	m.contexts[iface] = c
	m.opts.Logger.InfoCache("Scan cache created", iface, "max_entries", m.opts.MaxEntries)
	return c, nil
}

// Remove flushes and drops the cache of iface.
func (m *Manager) Remove(iface string) error {
	m.mu.Lock()
	c, ok := m.contexts[iface]
	if ok {
		delete(m.contexts, iface)
	}
	m.mu.Unlock()
	if !ok {
		return errors.ErrInterfaceUnknown(iface)
	}
	n := c.Flush(nil)
	m.opts.Logger.InfoCache("Scan cache removed", iface, "flushed", n)
	return nil
}

// Get returns the cache of iface.
func (m *Manager) Get(iface string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[iface]
	if !ok {
		return nil, errors.ErrInterfaceUnknown(iface)
	}
	return c, nil
}

// Interfaces returns the managed interface names in sorted order.
func (m *Manager) Interfaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.contexts))
	for name := range m.contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Contexts returns the managed caches ordered by interface name.
func (m *Manager) Contexts() []*Context {
	names := m.Interfaces()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Context, 0, len(names))
	for _, name := range names {
		if c, ok := m.contexts[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ScoringConfig returns the shared scoring configuration.
func (m *Manager) ScoringConfig() ScoringConfig {
	return *m.scoring.Load()
}

// SetScoringConfig validates cfg and installs it for every context. It
// reports whether validation adjusted any value.
func (m *Manager) SetScoringConfig(cfg ScoringConfig) bool {
	adjusted := cfg.Validate()
	if adjusted {
		m.opts.Logger.Warn("Scoring configuration adjusted during validation")
	}
	m.scoring.Store(&cfg)
	return adjusted
}

// AgeOutAll runs an age-out pass on every cache and returns the total number
// of entries removed.
func (m *Manager) AgeOutAll() int {
	total := 0
	for _, c := range m.Contexts() {
		total += c.AgeOut()
	}
	return total
}
