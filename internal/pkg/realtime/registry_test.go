package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubPresenceStore struct {
	mu           sync.Mutex
	onlineCalls  []string
	offlineCalls []string
	touchCalls   []string
}

func (s *stubPresenceStore) SetOnline(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onlineCalls = append(s.onlineCalls, username)
	return nil
}

func (s *stubPresenceStore) SetOffline(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offlineCalls = append(s.offlineCalls, username)
	return nil
}

func (s *stubPresenceStore) Touch(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchCalls = append(s.touchCalls, username)
	return nil
}

func newTestClient(t *testing.T, registry *Registry, hub *Hub, username string) *Client {
	t.Helper()
	client := NewClient(nil, registry, hub, nil, time.Second, 2, 8, zerolog.Nop())
	if username != "" {
		client.setUsername(username)
	}
	return client
}

func receiveEvent(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case data := <-client.send:
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestRegisterFirstConnectionSetsOnline(t *testing.T) {
	store := &stubPresenceStore{}
	registry := NewRegistry(store, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	client := newTestClient(t, registry, hub, "alice")
	registry.Register(context.Background(), client)

	if !registry.IsOnline("alice") {
		t.Fatal("expected alice to be online")
	}
	if got := len(store.onlineCalls); got != 1 {
		t.Fatalf("expected 1 SetOnline call, got %d", got)
	}
	if store.onlineCalls[0] != "alice" {
		t.Fatalf("expected SetOnline for alice, got %s", store.onlineCalls[0])
	}
}

func TestSecondConnectionDoesNotRepeatOnlineTransition(t *testing.T) {
	store := &stubPresenceStore{}
	registry := NewRegistry(store, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	first := newTestClient(t, registry, hub, "alice")
	second := newTestClient(t, registry, hub, "alice")
	registry.Register(context.Background(), first)
	registry.Register(context.Background(), second)

	if got := len(store.onlineCalls); got != 1 {
		t.Fatalf("expected 1 SetOnline call for two connections, got %d", got)
	}
	if got := len(registry.Connections("alice")); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}
}

func TestOfflineOnlyAfterLastConnectionCloses(t *testing.T) {
	store := &stubPresenceStore{}
	registry := NewRegistry(store, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	first := newTestClient(t, registry, hub, "alice")
	second := newTestClient(t, registry, hub, "alice")
	registry.Register(context.Background(), first)
	registry.Register(context.Background(), second)

	registry.Unregister(context.Background(), first)
	if !registry.IsOnline("alice") {
		t.Fatal("alice should stay online while a connection remains")
	}
	if got := len(store.offlineCalls); got != 0 {
		t.Fatalf("expected no SetOffline yet, got %d calls", got)
	}

	registry.Unregister(context.Background(), second)
	if registry.IsOnline("alice") {
		t.Fatal("alice should be offline after the last connection closes")
	}
	if got := len(store.offlineCalls); got != 1 {
		t.Fatalf("expected 1 SetOffline call, got %d", got)
	}
}

func TestUnregisterUnauthenticatedConnectionIsNoop(t *testing.T) {
	store := &stubPresenceStore{}
	registry := NewRegistry(store, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	client := newTestClient(t, registry, hub, "")
	registry.Unregister(context.Background(), client)

	if got := len(store.offlineCalls); got != 0 {
		t.Fatalf("expected no SetOffline calls, got %d", got)
	}
}

func TestUnregisterSameConnectionTwiceIsNoop(t *testing.T) {
	store := &stubPresenceStore{}
	registry := NewRegistry(store, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	first := newTestClient(t, registry, hub, "alice")
	second := newTestClient(t, registry, hub, "alice")
	registry.Register(context.Background(), first)
	registry.Register(context.Background(), second)

	registry.Unregister(context.Background(), first)
	registry.Unregister(context.Background(), first)

	if !registry.IsOnline("alice") {
		t.Fatal("double unregister of one connection must not force alice offline")
	}
	if got := len(store.offlineCalls); got != 0 {
		t.Fatalf("expected no SetOffline calls, got %d", got)
	}
}

func TestPresenceTransitionBroadcastsToOtherIdentities(t *testing.T) {
	store := &stubPresenceStore{}
	registry := NewRegistry(store, zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	watcher := newTestClient(t, registry, hub, "alice")
	registry.Register(context.Background(), watcher)

	joiner := newTestClient(t, registry, hub, "bob")
	registry.Register(context.Background(), joiner)

	event := receiveEvent(t, watcher)
	if event.Type != EventPresenceChanged {
		t.Fatalf("expected %s event, got %s", EventPresenceChanged, event.Type)
	}

	var payload PresencePayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("unmarshal presence payload: %v", err)
	}
	if payload.Username != "bob" || !payload.Online {
		t.Fatalf("expected bob online, got %s online=%v", payload.Username, payload.Online)
	}

	// The transitioning identity's own connections receive nothing.
	select {
	case data := <-joiner.send:
		t.Fatalf("joiner should not receive its own presence event, got %s", data)
	default:
	}
}

func TestTouchRefreshesLastSeen(t *testing.T) {
	store := &stubPresenceStore{}
	registry := NewRegistry(store, zerolog.Nop())

	registry.Touch(context.Background(), "alice")

	if got := len(store.touchCalls); got != 1 {
		t.Fatalf("expected 1 Touch call, got %d", got)
	}
}
