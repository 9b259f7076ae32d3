package realtime

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	registry := NewRegistry(&stubPresenceStore{}, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	first := newTestClient(t, registry, hub, "alice")
	second := newTestClient(t, registry, hub, "bob")
	topic := TopicForConversation(7)
	hub.Subscribe(first, topic)
	hub.Subscribe(second, topic)

	delivered := hub.Publish(topic, []byte(`{"type":"new_message"}`))
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}

	for _, client := range []*Client{first, second} {
		event := receiveEvent(t, client)
		if event.Type != EventNewMessage {
			t.Fatalf("expected %s event, got %s", EventNewMessage, event.Type)
		}
	}
}

func TestPublishToUnknownTopicDeliversNothing(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	if delivered := hub.Publish("conversation:404", []byte("{}")); delivered != 0 {
		t.Fatalf("expected 0 deliveries, got %d", delivered)
	}
}

func TestSubscribeTwiceIsIdempotent(t *testing.T) {
	registry := NewRegistry(&stubPresenceStore{}, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	client := newTestClient(t, registry, hub, "alice")
	topic := TopicForConversation(1)
	hub.Subscribe(client, topic)
	hub.Subscribe(client, topic)

	if got := hub.Subscribers(topic); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}
}

func TestPublishDropsFrameOnFullBuffer(t *testing.T) {
	registry := NewRegistry(&stubPresenceStore{}, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	client := NewClient(nil, registry, hub, nil, 0, 0, 1, zerolog.Nop())
	client.setUsername("alice")
	topic := TopicForConversation(1)
	hub.Subscribe(client, topic)

	if delivered := hub.Publish(topic, []byte("first")); delivered != 1 {
		t.Fatalf("expected first frame accepted, delivered=%d", delivered)
	}
	if delivered := hub.Publish(topic, []byte("second")); delivered != 0 {
		t.Fatalf("expected second frame dropped on full buffer, delivered=%d", delivered)
	}
}

func TestDropClientRemovesEverySubscription(t *testing.T) {
	registry := NewRegistry(&stubPresenceStore{}, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	client := newTestClient(t, registry, hub, "alice")
	hub.Subscribe(client, TopicForConversation(1))
	hub.Subscribe(client, TopicForConversation(2))

	hub.DropClient(client)

	if hub.IsSubscribed(client, TopicForConversation(1)) || hub.IsSubscribed(client, TopicForConversation(2)) {
		t.Fatal("dropped client must not remain subscribed")
	}
	if hub.Subscribers(TopicForConversation(1)) != 0 || hub.Subscribers(TopicForConversation(2)) != 0 {
		t.Fatal("topics should be empty after dropping their only subscriber")
	}
}

func TestDeliverToMemberSubscribesAndDelivers(t *testing.T) {
	registry := NewRegistry(&stubPresenceStore{}, zerolog.Nop())
	hub := NewHub(zerolog.Nop())
	fanout := NewFanout(registry, hub, zerolog.Nop())

	client := newTestClient(t, registry, hub, "alice")
	registry.Register(context.Background(), client)

	delivered := fanout.DeliverToMember(9, "alice", []byte(`{"type":"new_message"}`))
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if !hub.IsSubscribed(client, TopicForConversation(9)) {
		t.Fatal("delivery should subscribe the connection to the conversation topic")
	}

	event := receiveEvent(t, client)
	if event.Type != EventNewMessage {
		t.Fatalf("expected %s event, got %s", EventNewMessage, event.Type)
	}

	// A follow-up topic publish reaches the now-subscribed connection too;
	// clients deduplicate by message id.
	if delivered := fanout.PublishToConversation(9, []byte(`{"type":"new_message"}`)); delivered != 1 {
		t.Fatalf("expected topic publish to reach 1 connection, got %d", delivered)
	}
}

func TestDetachMemberStopsTopicDelivery(t *testing.T) {
	registry := NewRegistry(&stubPresenceStore{}, zerolog.Nop())
	hub := NewHub(zerolog.Nop())
	fanout := NewFanout(registry, hub, zerolog.Nop())

	client := newTestClient(t, registry, hub, "bob")
	registry.Register(context.Background(), client)

	if delivered := fanout.DeliverToMember(1, "bob", []byte(`{"type":"new_message"}`)); delivered != 1 {
		t.Fatalf("expected 1 delivery before removal, got %d", delivered)
	}
	receiveEvent(t, client)

	fanout.DetachMember(1, "bob")

	if hub.IsSubscribed(client, TopicForConversation(1)) {
		t.Fatal("detached member must not stay subscribed to the topic")
	}
	if delivered := fanout.PublishToConversation(1, []byte(`{"type":"new_message"}`)); delivered != 0 {
		t.Fatalf("expected no topic delivery to a detached member, got %d", delivered)
	}
}

func TestDeliverToMemberWithoutConnectionsIsZero(t *testing.T) {
	registry := NewRegistry(&stubPresenceStore{}, zerolog.Nop())
	hub := NewHub(zerolog.Nop())
	fanout := NewFanout(registry, hub, zerolog.Nop())

	if delivered := fanout.DeliverToMember(9, "ghost", []byte("{}")); delivered != 0 {
		t.Fatalf("expected 0 deliveries for disconnected member, got %d", delivered)
	}
}
