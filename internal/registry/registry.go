// Package registry provides an in-memory registry of services observed
// during discovery.
package registry

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lanbeacon/lanbeacon/internal/protocol"
)

// Entry holds an observed announcement and when it was seen
type Entry struct {
	Announcement protocol.Announcement
	FirstSeen    time.Time
	LastSeen     time.Time
}

// Addr returns the observed endpoint as host:port
func (e Entry) Addr() string {
	return net.JoinHostPort(e.Announcement.IP, strconv.Itoa(e.Announcement.Port))
}

// Registry tracks observed services, deduplicated by advertised endpoint
type Registry struct {
	entries map[string]*Entry
	mu      sync.RWMutex
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Upsert records an observation and reports whether the endpoint is new.
// Repeat observations refresh the stored announcement and last-seen time.
func (r *Registry) Upsert(a protocol.Announcement) bool {
	key := net.JoinHostPort(a.IP, strconv.Itoa(a.Port))

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, exists := r.entries[key]
	if exists {
		entry.Announcement = a
		entry.LastSeen = now
		return false
	}
	r.entries[key] = &Entry{
		Announcement: a,
		FirstSeen:    now,
		LastSeen:     now,
	}
	return true
}

// List returns a snapshot of all observed services, ordered by endpoint
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Addr() < out[j].Addr()
	})
	return out
}

// Len returns the number of distinct observed services
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
