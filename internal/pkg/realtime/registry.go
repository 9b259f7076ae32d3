package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// PresenceStore persists online/offline transitions and last-seen updates.
// Every method is a single upsert keyed by username.
type PresenceStore interface {
	SetOnline(ctx context.Context, username string) error
	SetOffline(ctx context.Context, username string) error
	Touch(ctx context.Context, username string) error
}

// Registry maps each user identity to the set of its currently open
// connections. Lookups by identity are O(1); the registry never scans the
// global connection population.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Client]struct{}

	presence PresenceStore
	logger   zerolog.Logger
}

// NewRegistry creates a new Registry
func NewRegistry(presence PresenceStore, logger zerolog.Logger) *Registry {
	return &Registry{
		conns:    make(map[string]map[*Client]struct{}),
		presence: presence,
		logger:   logger,
	}
}

// Register adds a connection to its identity's connection set. The first
// connection for a previously-offline identity transitions presence to online
// and broadcasts the transition to every other identity's connections.
func (r *Registry) Register(ctx context.Context, client *Client) {
	username := client.Username()

	r.mu.Lock()
	set, ok := r.conns[username]
	if !ok {
		set = make(map[*Client]struct{})
		r.conns[username] = set
	}
	set[client] = struct{}{}
	first := len(set) == 1
	r.mu.Unlock()

	r.logger.Info().
		Str("username", username).
		Str("connectionID", client.ID()).
		Bool("firstConnection", first).
		Msg("Connection registered")

	if !first {
		return
	}

	if err := r.presence.SetOnline(ctx, username); err != nil {
		r.logger.Error().Err(err).
			Str("username", username).
			Msg("Failed to persist online presence")
	}

	r.broadcastPresence(username, true)
}

// Unregister removes a connection from its identity's connection set. Only
// when the set becomes empty does presence transition to offline; two
// simultaneous connections never produce a spurious offline event.
func (r *Registry) Unregister(ctx context.Context, client *Client) {
	username := client.Username()
	if username == "" {
		// Connection closed before authenticating; nothing was registered.
		return
	}

	r.mu.Lock()
	set, ok := r.conns[username]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, exists := set[client]; !exists {
		r.mu.Unlock()
		return
	}
	delete(set, client)
	last := len(set) == 0
	if last {
		delete(r.conns, username)
	}
	r.mu.Unlock()

	r.logger.Info().
		Str("username", username).
		Str("connectionID", client.ID()).
		Bool("lastConnection", last).
		Msg("Connection unregistered")

	if !last {
		return
	}

	if err := r.presence.SetOffline(ctx, username); err != nil {
		r.logger.Error().Err(err).
			Str("username", username).
			Msg("Failed to persist offline presence")
	}

	r.broadcastPresence(username, false)
}

// Connections returns a snapshot of the identity's open connections
func (r *Registry) Connections(username string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.conns[username]
	if !ok {
		return nil
	}

	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	return clients
}

// IsOnline reports whether the identity has at least one open connection
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[username]) > 0
}

// OnlineCount returns the number of identities with at least one connection
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Touch refreshes the identity's last-seen timestamp
func (r *Registry) Touch(ctx context.Context, username string) {
	if err := r.presence.Touch(ctx, username); err != nil {
		r.logger.Error().Err(err).
			Str("username", username).
			Msg("Failed to refresh last seen")
	}
}

// broadcastPresence pushes a presence transition to every connection that
// does not belong to the transitioning identity. Drops on full buffers are
// logged and never block the transition.
func (r *Registry) broadcastPresence(username string, online bool) {
	data, err := EncodeEvent(EventPresenceChanged, PresencePayload{
		Username: username,
		Online:   online,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode presence event")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for owner, set := range r.conns {
		if owner == username {
			continue
		}
		for client := range set {
			if !client.Enqueue(data) {
				r.logger.Warn().
					Str("username", owner).
					Str("connectionID", client.ID()).
					Msg("Dropped presence event on full send buffer")
			}
		}
	}
}
