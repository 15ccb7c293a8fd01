package realtime

import (
	"sync"
	"time"
)

// Connection is a live client channel that can receive frames
type Connection interface {
	ID() string
	Send(frame []byte) error
}

type registryEntry struct {
	conn      Connection
	expiresAt time.Time
}

// Registry maps conversation ids to the connection waiting on them. Entries
// expire after ttl so abandoned payments do not accumulate.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]registryEntry
	now     func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]registryEntry),
		now:     time.Now,
	}
}

// Register binds conversationID to conn, replacing any previous binding and refreshing the TTL
func (r *Registry) Register(conversationID string, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[conversationID] = registryEntry{conn: conn, expiresAt: r.now().Add(r.ttl)}
}

// Lookup ignores expired entries
func (r *Registry) Lookup(conversationID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[conversationID]

	if !ok || !r.now().Before(entry.expiresAt) {
		return nil, false
	}

	return entry.conn, true
}

// Unregister removes the binding only while it still points at conn, so a
// late disconnect cannot drop a newer registration.
func (r *Registry) Unregister(conversationID string, conn Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[conversationID]

	if !ok || entry.conn.ID() != conn.ID() {
		return false
	}

	delete(r.entries, conversationID)
	return true
}

// UnregisterConnection drops every conversation held by conn
func (r *Registry) UnregisterConnection(conn Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0

	for id, entry := range r.entries {
		if entry.conn.ID() == conn.ID() {
			delete(r.entries, id)
			removed++
		}
	}

	return removed
}

// Sweep evicts expired entries and reports how many were removed
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0

	for id, entry := range r.entries {
		if !now.Before(entry.expiresAt) {
			delete(r.entries, id)
			removed++
		}
	}

	return removed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Start runs Sweep every interval until Stop
func (r *Registry) Start(interval time.Duration) {
	r.stopCh = make(chan struct{})
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *Registry) Stop() {
	if r.stopCh == nil {
		return
	}

	close(r.stopCh)
	r.wg.Wait()
	r.stopCh = nil
}
