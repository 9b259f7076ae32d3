package realtime

import (
	"github.com/rs/zerolog"
)

// Fanout joins the registry's identity index with the hub's topics for
// message delivery. Members are reached through their registered connections
// whether or not they ever subscribed to the conversation's topic.
type Fanout struct {
	registry *Registry
	hub      *Hub
	logger   zerolog.Logger
}

// NewFanout creates a new Fanout
func NewFanout(registry *Registry, hub *Hub, logger zerolog.Logger) *Fanout {
	return &Fanout{
		registry: registry,
		hub:      hub,
		logger:   logger,
	}
}

// DeliverToMember pushes a frame directly to every open connection of one
// conversation member, subscribing each connection to the conversation topic
// on the way. It returns the number of connections that accepted the frame.
// A connection that refuses the frame is logged and skipped; delivery
// failures never fail the publish.
func (f *Fanout) DeliverToMember(conversationID int64, username string, data []byte) int {
	topic := TopicForConversation(conversationID)

	delivered := 0
	for _, client := range f.registry.Connections(username) {
		f.hub.Subscribe(client, topic)
		if client.Enqueue(data) {
			delivered++
		} else {
			f.logger.Warn().
				Int64("conversationID", conversationID).
				Str("username", username).
				Str("connectionID", client.ID()).
				Msg("Dropped direct delivery on full send buffer")
		}
	}

	return delivered
}

// PublishToConversation broadcasts a frame once on the conversation topic for
// listeners that subscribed on their own
func (f *Fanout) PublishToConversation(conversationID int64, data []byte) int {
	return f.hub.Publish(TopicForConversation(conversationID), data)
}

// DetachMember drops every open connection of a user from the conversation
// topic. Removal paths call this so a user who lost membership stops
// receiving topic broadcasts immediately instead of at disconnect.
func (f *Fanout) DetachMember(conversationID int64, username string) {
	topic := TopicForConversation(conversationID)
	for _, client := range f.registry.Connections(username) {
		f.hub.Unsubscribe(client, topic)
	}
}
