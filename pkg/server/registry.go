package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry tracks every live connection and indexes them by owner identity.
// It is the only shared mutable structure in the core; all methods are safe
// for fully concurrent use with no caller-side locking.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	byOwner map[string]map[string]*Conn

	totalRegistered atomic.Uint64
	totalRemoved    atomic.Uint64

	maxConns int
	metrics  *Metrics
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. maxConns of 0 means no limit.
func NewRegistry(maxConns int, metrics *Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:    make(map[string]*Conn),
		byOwner:  make(map[string]map[string]*Conn),
		maxConns: maxConns,
		metrics:  metrics,
		logger:   logger.With("component", "registry"),
	}
}

// Register adds a new unauthenticated connection and wires its close hook so
// the entry is released when the transport goes away.
func (r *Registry) Register(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return ErrMaxConnsReached
	}
	if _, exists := r.conns[c.id]; exists {
		return ErrDuplicateConn
	}

	r.conns[c.id] = c
	c.onClose = r.Remove
	r.totalRegistered.Add(1)
	r.metrics.ConnectionOpened()

	r.logger.Info("connection registered",
		"conn_id", c.id,
		"active_conns", len(r.conns))
	return nil
}

// SetOwner binds an owner identity to a registered connection, exactly once.
func (r *Registry) SetOwner(c *Conn, owner string) error {
	if owner == "" {
		return ErrInvalidOwner
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := c.authenticate(owner); err != nil {
		return err
	}

	set, ok := r.byOwner[owner]
	if !ok {
		set = make(map[string]*Conn)
		r.byOwner[owner] = set
	}
	set[c.id] = c

	r.logger.Info("connection authenticated",
		"conn_id", c.id,
		"user_id", owner,
		"owner_conns", len(set))
	return nil
}

// LookupByOwner returns a snapshot of the currently open connections bound to
// the given owner identity. The snapshot is independent of the registry;
// callers may iterate it as often as they like without blocking concurrent
// register and remove.
func (r *Registry) LookupByOwner(owner string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byOwner[owner]
	if len(set) == 0 {
		return nil
	}

	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Remove releases a connection's registry entry. It is idempotent: removing
// an already-removed connection is a no-op.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.id]; !exists {
		return
	}
	delete(r.conns, c.id)

	if owner := c.Owner(); owner != "" {
		if set, ok := r.byOwner[owner]; ok {
			delete(set, c.id)
			if len(set) == 0 {
				delete(r.byOwner, owner)
			}
		}
	}

	r.totalRemoved.Add(1)
	r.metrics.ConnectionClosed()

	r.logger.Info("connection removed",
		"conn_id", c.id,
		"active_conns", len(r.conns))
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByOwner returns the number of registered connections for one owner.
func (r *Registry) CountByOwner(owner string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner[owner])
}

// ForEach iterates over a snapshot of all connections.
func (r *Registry) ForEach(fn func(*Conn) bool) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if !fn(c) {
			break
		}
	}
}

// Stats returns aggregated registry counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	active := len(r.conns)
	owners := len(r.byOwner)
	r.mu.RUnlock()

	return RegistryStats{
		Active:          active,
		Owners:          owners,
		TotalRegistered: r.totalRegistered.Load(),
		TotalRemoved:    r.totalRemoved.Load(),
	}
}

// RegistryStats contains aggregated registry counters.
type RegistryStats struct {
	Active          int
	Owners          int
	TotalRegistered uint64
	TotalRemoved    uint64
}

// Shutdown closes every registered connection concurrently and waits for all
// of them. Used during graceful server shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()

	r.logger.Info("registry shutdown", "closed_conns", len(conns))
}
