package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/harun/jobats/internal/observability"
)

// IdleAfter marks a client idle in ClientInfo when it has been silent this long.
const IdleAfter = 5 * time.Minute

// ClientRegistry tracks connected clients and which tabs' request events
// each one receives. A client watches a tab once it submits a suggestion
// for it or subscribes to it explicitly.
type ClientRegistry struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	watchers map[int]map[string]struct{}
	watchAll map[string]bool
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients:  make(map[string]*Client),
		watchers: make(map[int]map[string]struct{}),
		watchAll: make(map[string]bool),
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	n := len(r.clients)
	r.mu.Unlock()

	observability.SetConnectedClients(n)
}

// Remove forgets a client and every tab it watched.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	delete(r.watchAll, clientID)
	for tabID, ids := range r.watchers {
		delete(ids, clientID)
		if len(ids) == 0 {
			delete(r.watchers, tabID)
		}
	}
	n := len(r.clients)
	r.mu.Unlock()

	observability.SetConnectedClients(n)
}

// Get retrieves a client by ID
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	return client, exists
}

// GetAll returns all clients
func (r *ClientRegistry) GetAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// GetAuthenticatedClients returns only authenticated clients
func (r *ClientRegistry) GetAuthenticatedClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		if client.IsAuthenticated() {
			clients = append(clients, client)
		}
	}
	return clients
}

// Watch adds tabIDs to what clientID receives. Unknown clients are ignored.
func (r *ClientRegistry) Watch(clientID string, tabIDs ...int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[clientID]; !ok {
		return false
	}
	for _, tabID := range tabIDs {
		ids := r.watchers[tabID]
		if ids == nil {
			ids = make(map[string]struct{})
			r.watchers[tabID] = ids
		}
		ids[clientID] = struct{}{}
	}
	return true
}

// Unwatch stops delivering events for tabIDs to clientID.
func (r *ClientRegistry) Unwatch(clientID string, tabIDs ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tabID := range tabIDs {
		if ids, ok := r.watchers[tabID]; ok {
			delete(ids, clientID)
			if len(ids) == 0 {
				delete(r.watchers, tabID)
			}
		}
	}
}

// SetWatchAll toggles delivery of every tab's events to clientID.
func (r *ClientRegistry) SetWatchAll(clientID string, all bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[clientID]; !ok {
		return false
	}
	if all {
		r.watchAll[clientID] = true
	} else {
		delete(r.watchAll, clientID)
	}
	return true
}

// ForgetTab drops every watch on a closed tab.
func (r *ClientRegistry) ForgetTab(tabID int) {
	r.mu.Lock()
	delete(r.watchers, tabID)
	r.mu.Unlock()
}

// Watchers returns the authenticated clients that receive tabID's events.
func (r *ClientRegistry) Watchers(tabID int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var clients []*Client
	for id, client := range r.clients {
		if !client.IsAuthenticated() {
			continue
		}
		_, watching := r.watchers[tabID][id]
		if watching || r.watchAll[id] {
			clients = append(clients, client)
		}
	}
	return clients
}

// Subscription returns the tabs clientID watches, ascending, and whether it
// receives every tab's events.
func (r *ClientRegistry) Subscription(clientID string) ([]int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.watchedTabsLocked(clientID), r.watchAll[clientID]
}

func (r *ClientRegistry) watchedTabsLocked(clientID string) []int {
	tabs := []int{}
	for tabID, ids := range r.watchers {
		if _, ok := ids[clientID]; ok {
			tabs = append(tabs, tabID)
		}
	}
	sort.Ints(tabs)
	return tabs
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// GetConnectedClients describes every connected client.
func (r *ClientRegistry) GetConnectedClients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for id, client := range r.clients {
		info := ClientInfo{
			ID:            id,
			Authenticated: client.IsAuthenticated(),
			ConnectedAt:   client.ConnectedAt,
			LastActivity:  client.LastActivity,
			IPAddress:     client.IPAddress,
			Idle:          now.Sub(client.LastActivity) > IdleAfter,
			Tabs:          r.watchedTabsLocked(id),
			WatchAll:      r.watchAll[id],
		}
		if client.RateLimiter != nil {
			info.RecentRequests, info.InFlight = client.RateLimiter.GetStats()
		}
		infos = append(infos, info)
	}
	return infos
}

// UpdateActivity updates the last activity time for a client
func (r *ClientRegistry) UpdateActivity(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[clientID]; exists {
		client.LastActivity = time.Now()
	}
}
