package server

import (
	"log"
	"sync"

	"github.com/npezzotti/go-livehub/internal/stats"
	"github.com/npezzotti/go-livehub/internal/types"
)

type presenceEntry struct {
	profile types.Profile
	client  *Client
}

// Registry maps each registered identity to its live connection. It never
// closes connections; that is left to the Hub.
type Registry struct {
	log     *log.Logger
	stats   stats.StatsProvider
	mu      sync.RWMutex
	entries map[string]presenceEntry
	// fanoutMu orders presence snapshots: whichever is taken last is also
	// queued last, so every connection ends on the current view
	fanoutMu sync.Mutex
}

func NewRegistry(logger *log.Logger, su stats.StatsProvider) *Registry {
	return &Registry{
		log:     logger,
		stats:   su,
		entries: make(map[string]presenceEntry),
	}
}

// Register binds id to c, replacing any previous entry, and fans out the new
// presence snapshot. It returns the connection that held the identity
// before, if any.
func (r *Registry) Register(id string, profile types.Profile, c *Client) *Client {
	profile.Id = id

	r.mu.Lock()
	prev, existed := r.entries[id]
	r.entries[id] = presenceEntry{profile: profile, client: c}
	r.mu.Unlock()

	if !existed {
		r.stats.Incr(stats.NumOnlineUsers)
	} else if prev.client != c {
		r.log.Printf("connection for %q superseded", id)
	}

	r.broadcastPresence()

	return prev.client
}

// Unregister removes id whatever connection it is bound to. It is a no-op
// if id is not registered.
func (r *Registry) Unregister(id string) bool {
	return r.unregister(id, nil)
}

// unregisterClient removes id only while it is still bound to c, so a
// superseded connection closing late cannot evict its replacement.
func (r *Registry) unregisterClient(id string, c *Client) bool {
	return r.unregister(id, c)
}

func (r *Registry) unregister(id string, c *Client) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok || (c != nil && entry.client != c) {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	r.mu.Unlock()

	r.stats.Decr(stats.NumOnlineUsers)
	r.broadcastPresence()

	return true
}

func (r *Registry) Lookup(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	return entry.client, ok
}

func (r *Registry) Profile(id string) (types.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	return entry.profile, ok
}

// Snapshot returns the profiles of all registered identities in no
// particular order.
func (r *Registry) Snapshot() []types.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]types.Profile, 0, len(r.entries))
	for _, entry := range r.entries {
		profiles = append(profiles, entry.profile)
	}
	return profiles
}

// SendTo queues msg for the connection registered under id. A false result
// means the event is lost and must not be retried.
func (r *Registry) SendTo(id string, msg *ServerMessage) bool {
	c, ok := r.Lookup(id)
	if !ok {
		r.log.Printf("dropping %q for %q: not connected", msg.Type, id)
		return false
	}

	if !c.queueMessage(msg) {
		r.log.Printf("dropping %q for %q: connection not writable", msg.Type, id)
		return false
	}

	return true
}

// Broadcast queues msg for every registered connection and returns how many
// accepted it.
func (r *Registry) Broadcast(msg *ServerMessage) int {
	var delivered int
	for _, c := range r.clients() {
		if c.queueMessage(msg) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.entries))
	for _, entry := range r.entries {
		clients = append(clients, entry.client)
	}
	return clients
}

func (r *Registry) broadcastPresence() {
	r.fanoutMu.Lock()
	defer r.fanoutMu.Unlock()

	r.mu.RLock()
	profiles := make([]types.Profile, 0, len(r.entries))
	clients := make([]*Client, 0, len(r.entries))
	for _, entry := range r.entries {
		profiles = append(profiles, entry.profile)
		clients = append(clients, entry.client)
	}
	r.mu.RUnlock()

	msg := OnlineUsersMessage(profiles)
	for _, c := range clients {
		c.queueMessage(msg)
	}
}
