package realtime

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// TopicForConversation names the broadcast topic backing a conversation
func TopicForConversation(conversationID int64) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// Hub maintains topic subscriptions and broadcasts frames to subscribers.
// One topic exists per conversation; community chats ride on the topic of
// their backing conversation.
type Hub struct {
	mu       sync.RWMutex
	topics   map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}

	logger zerolog.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics:   make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
		logger:   logger,
	}
}

// Subscribe attaches a connection to a topic. Subscribing twice is a no-op.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][client] = struct{}{}

	if _, ok := h.byClient[client]; !ok {
		h.byClient[client] = make(map[string]struct{})
	}
	h.byClient[client][topic] = struct{}{}
}

// Unsubscribe detaches a connection from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(client, topic)
}

// IsSubscribed reports whether a connection is attached to a topic
func (h *Hub) IsSubscribed(client *Client, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.topics[topic][client]
	return ok
}

// Subscribers returns the number of connections attached to a topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish broadcasts a frame to every connection subscribed to the topic and
// returns the number of connections that accepted it. A slow consumer's frame
// is dropped and logged; the publish never stalls on it.
func (h *Hub) Publish(topic string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers, ok := h.topics[topic]
	if !ok {
		return 0
	}

	delivered := 0
	for client := range subscribers {
		if client.Enqueue(data) {
			delivered++
		} else {
			h.logger.Warn().
				Str("topic", topic).
				Str("connectionID", client.ID()).
				Msg("Dropped frame on full send buffer")
		}
	}

	return delivered
}

// DropClient removes a connection from every topic it is subscribed to
func (h *Hub) DropClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range h.byClient[client] {
		h.removeLocked(client, topic)
	}
}

func (h *Hub) removeLocked(client *Client, topic string) {
	if subscribers, ok := h.topics[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}

	if topics, ok := h.byClient[client]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(h.byClient, client)
		}
	}
}
