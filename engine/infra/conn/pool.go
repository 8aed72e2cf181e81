package conn

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rapidcrm/crmstore/engine/core"
)

// Pool groups connections. Its counters are derived from the members each
// time it is read.
type Pool struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	ConnectionIDs     []string  `json:"connectionIds"`
	MaxConnections    int       `json:"maxConnections"`
	ActiveConnections int       `json:"activeConnections"`
	Healthy           bool      `json:"isHealthy"`
	LastHealthCheck   time.Time `json:"lastHealthCheck"`
}

type poolEntry struct {
	id              string
	name            string
	ids             []string
	lastHealthCheck time.Time
}

// CreatePool groups the tracked connections among ids. Unknown IDs are
// ignored; at least one must be tracked.
func (r *Registry) CreatePool(name string, ids []string) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	known := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.conns[id]; ok {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return nil, core.NewInvalidInput("pool connections", "no tracked connection among the given ids")
	}
	entry := &poolEntry{
		id:              "pool_" + uuid.NewString(),
		name:            name,
		ids:             known,
		lastHealthCheck: r.now(),
	}
	r.pools[entry.id] = entry
	return r.derivePoolLocked(entry), nil
}

func (r *Registry) Pool(id string) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.pools[id]
	if !ok {
		return nil, false
	}
	return r.derivePoolLocked(entry), true
}

// Pools returns every pool ordered by name.
func (r *Registry) Pools() []*Pool {
	r.mu.RLock()
	out := make([]*Pool, 0, len(r.pools))
	for _, entry := range r.pools {
		out = append(out, r.derivePoolLocked(entry))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) derivePoolLocked(entry *poolEntry) *Pool {
	p := &Pool{
		ID:              entry.id,
		Name:            entry.name,
		LastHealthCheck: entry.lastHealthCheck,
	}
	for _, id := range entry.ids {
		c, ok := r.conns[id]
		if !ok {
			continue
		}
		p.ConnectionIDs = append(p.ConnectionIDs, id)
		if c.IsConnected() {
			p.ActiveConnections++
		}
	}
	p.MaxConnections = len(p.ConnectionIDs)
	p.Healthy = p.MaxConnections > 0 && p.ActiveConnections == p.MaxConnections
	return p
}
