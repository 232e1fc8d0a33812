// Package opm implements the Object Pool Manager: pre-allocated pools of
// reusable objects for hot-path messages and buffers, so steady-state
// traffic runs without allocation.
package opm

import (
	"errors"
	"sync"

	"github.com/fluxorio/msgmgr/pkg/core"
	"github.com/fluxorio/msgmgr/pkg/core/failfast"
)

var (
	// ErrPoolExhausted is returned by Reserve when the pool is empty and
	// growth is disabled. Callers may fall back to heap allocation.
	ErrPoolExhausted = errors.New("opm: pool exhausted")

	// ErrNotPoolMember is returned by Release for an object the pool did
	// not create. Diagnosable, not fatal.
	ErrNotPoolMember = errors.New("opm: object was not created by this pool")

	// ErrDuplicatePool is returned when a pool id is created twice.
	ErrDuplicatePool = errors.New("opm: pool id already exists")
)

// Poolable is the contract for pooled objects. Clean is called when the
// object is released back into its pool.
type Poolable interface {
	Clean()
}

// GrowthPolicy controls behavior when a pool runs dry.
type GrowthPolicy int

const (
	// GrowthNone makes Reserve fail with ErrPoolExhausted when empty.
	GrowthNone GrowthPolicy = iota
	// GrowthOnDemand allocates a new pool member when empty.
	GrowthOnDemand
)

// PoolConfig configures a pool.
type PoolConfig struct {
	// ID names the pool in the manager registry.
	ID string
	// Capacity is the number of objects pre-allocated at creation.
	Capacity int
	// Growth decides what happens when every object is reserved.
	Growth GrowthPolicy
	// New constructs one pool member.
	New func() Poolable
}

// PoolStats is a point-in-time snapshot of a pool.
type PoolStats struct {
	ID        string `json:"id"`
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Grown     int    `json:"grown"`
}

// Pool is a homogeneous set of reusable objects. Objects are handed out
// by Reserve and returned by Release; membership is tracked so release of
// a foreign object is detectable.
type Pool struct {
	mu       sync.Mutex
	cfg      PoolConfig
	free     []Poolable
	members  map[Poolable]bool
	reserved int
	grown    int
}

func newPool(cfg PoolConfig) *Pool {
	failfast.NotNil(cfg.New, "pool initializer")
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	p := &Pool{
		cfg:     cfg,
		free:    make([]Poolable, 0, cfg.Capacity),
		members: make(map[Poolable]bool, cfg.Capacity),
	}
	for i := 0; i < cfg.Capacity; i++ {
		obj := cfg.New()
		p.free = append(p.free, obj)
		p.members[obj] = true
	}
	return p
}

// Reserve hands out an object. When the pool is dry it either grows (per
// policy) or fails with ErrPoolExhausted.
func (p *Pool) Reserve() (Poolable, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		if p.cfg.Growth != GrowthOnDemand {
			return nil, ErrPoolExhausted
		}
		obj := p.cfg.New()
		p.members[obj] = true
		p.grown++
		p.reserved++
		return obj, nil
	}

	obj := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.reserved++
	return obj, nil
}

// Release cleans the object and returns it to the free list. Releasing an
// object the pool never created is an error, not a crash.
func (p *Pool) Release(obj Poolable) error {
	if obj == nil {
		return ErrNotPoolMember
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.members[obj] {
		return ErrNotPoolMember
	}
	obj.Clean()
	p.free = append(p.free, obj)
	p.reserved--
	return nil
}

// Owns reports whether the pool created obj.
func (p *Pool) Owns(obj Poolable) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.members[obj]
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		ID:        p.cfg.ID,
		Capacity:  p.cfg.Capacity + p.grown,
		Available: len(p.free),
		Reserved:  p.reserved,
		Grown:     p.grown,
	}
}

// Manager is the process-wide registry of pools. It is an explicitly
// constructed service object; tests build isolated instances.
type Manager struct {
	mu     sync.Mutex
	pools  map[string]*Pool
	logger core.Logger
}

// NewManager creates an empty pool registry.
func NewManager(logger core.Logger) *Manager {
	if logger == nil {
		logger = core.NewLogger(core.LoggerConfig{Level: "INFO", Subsystem: "opm"})
	}
	return &Manager{
		pools:  make(map[string]*Pool),
		logger: logger,
	}
}

// CreatePool registers a new pool and pre-allocates its members.
func (m *Manager) CreatePool(cfg PoolConfig) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[cfg.ID]; exists {
		return nil, ErrDuplicatePool
	}
	p := newPool(cfg)
	m.pools[cfg.ID] = p
	m.logger.Infof("created pool %q capacity=%d growth=%d", cfg.ID, cfg.Capacity, cfg.Growth)
	return p, nil
}

// Pool looks up a pool by id.
func (m *Manager) Pool(id string) (*Pool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	return p, ok
}

// WasCreatedByOPM reports whether any registered pool owns obj. The
// dispatcher uses this to decide between releasing a handled message back
// to its pool and leaving it for the collector.
func (m *Manager) WasCreatedByOPM(obj Poolable) bool {
	_, ok := m.owningPool(obj)
	return ok
}

// ReleaseToOwner returns obj to whichever pool created it.
func (m *Manager) ReleaseToOwner(obj Poolable) error {
	p, ok := m.owningPool(obj)
	if !ok {
		return ErrNotPoolMember
	}
	return p.Release(obj)
}

func (m *Manager) owningPool(obj Poolable) (*Pool, bool) {
	if obj == nil {
		return nil, false
	}
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	for _, p := range pools {
		if p.Owns(obj) {
			return p, true
		}
	}
	return nil, false
}

// Stats snapshots every registered pool.
func (m *Manager) Stats() []PoolStats {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	stats := make([]PoolStats, 0, len(pools))
	for _, p := range pools {
		stats = append(stats, p.Stats())
	}
	return stats
}
