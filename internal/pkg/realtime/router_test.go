package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dkaya/wavelink/internal/app/models"
	"github.com/dkaya/wavelink/internal/pkg/apperrors"
	"github.com/dkaya/wavelink/internal/pkg/auth"
)

type stubTokenValidator struct {
	username string
	err      error
}

func (s *stubTokenValidator) ValidateAndExtractClaims(string) (*auth.Claims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &auth.Claims{Username: s.username}, nil
}

type stubPublisher struct {
	message *models.Message
	err     error
	calls   int
}

func (s *stubPublisher) PublishMessage(_ context.Context, conversationID int64, sender, content string, replyTo *int64) (*models.Message, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.message, nil
}

type stubReadMarker struct {
	upTo int64
	err  error
}

func (s *stubReadMarker) MarkRead(context.Context, int64, string, *int64) (int64, error) {
	return s.upTo, s.err
}

type stubMembershipChecker struct {
	member bool
	err    error
}

func (s *stubMembershipChecker) IsMember(context.Context, int64, string) (bool, error) {
	return s.member, s.err
}

type routerFixture struct {
	registry *Registry
	hub      *Hub
	router   *Router
	chat     *stubPublisher
}

func newRouterFixture(tokens TokenValidator, chat *stubPublisher, members MembershipChecker) *routerFixture {
	registry := NewRegistry(&stubPresenceStore{}, zerolog.Nop())
	hub := NewHub(zerolog.Nop())
	router := NewRouter(registry, hub, tokens, chat, &stubReadMarker{}, members, zerolog.Nop())
	return &routerFixture{registry: registry, hub: hub, router: router, chat: chat}
}

func encodeFrame(t *testing.T, eventType string, payload interface{}) []byte {
	t.Helper()
	data, err := EncodeEvent(eventType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", eventType, err)
	}
	return data
}

func expectErrorEvent(t *testing.T, client *Client, code string) {
	t.Helper()
	event := receiveEvent(t, client)
	if event.Type != EventError {
		t.Fatalf("expected error event, got %s", event.Type)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Code != code {
		t.Fatalf("expected error code %s, got %s", code, payload.Code)
	}
}

func TestRouterRejectsEventsBeforeAuthentication(t *testing.T) {
	fixture := newRouterFixture(&stubTokenValidator{}, &stubPublisher{}, &stubMembershipChecker{member: true})
	client := newTestClient(t, fixture.registry, fixture.hub, "")

	frame := encodeFrame(t, EventSubscribe, SubscribePayload{ConversationID: 1})
	fixture.router.Handle(context.Background(), client, frame)

	expectErrorEvent(t, client, ErrCodeAuthRequired)
	if fixture.chat.calls != 0 {
		t.Fatalf("no service call expected before authentication, got %d", fixture.chat.calls)
	}
}

func TestAuthenticateBindsIdentityAndRegisters(t *testing.T) {
	fixture := newRouterFixture(&stubTokenValidator{username: "alice"}, &stubPublisher{}, &stubMembershipChecker{member: true})
	client := newTestClient(t, fixture.registry, fixture.hub, "")

	frame := encodeFrame(t, EventAuthenticate, AuthenticatePayload{Token: "token"})
	fixture.router.Handle(context.Background(), client, frame)

	if client.Username() != "alice" {
		t.Fatalf("expected bound username alice, got %q", client.Username())
	}
	if !fixture.registry.IsOnline("alice") {
		t.Fatal("expected alice registered as online")
	}
}

func TestAuthenticateRejectsInvalidToken(t *testing.T) {
	fixture := newRouterFixture(&stubTokenValidator{err: apperrors.ErrInvalidCredentials}, &stubPublisher{}, &stubMembershipChecker{member: true})
	client := newTestClient(t, fixture.registry, fixture.hub, "")

	frame := encodeFrame(t, EventAuthenticate, AuthenticatePayload{Token: "bad"})
	fixture.router.Handle(context.Background(), client, frame)

	expectErrorEvent(t, client, ErrCodeInvalidToken)
	if fixture.registry.OnlineCount() != 0 {
		t.Fatal("invalid token must not register a connection")
	}
}

func TestSubscribeRequiresMembership(t *testing.T) {
	fixture := newRouterFixture(&stubTokenValidator{}, &stubPublisher{}, &stubMembershipChecker{member: false})
	client := newTestClient(t, fixture.registry, fixture.hub, "alice")

	frame := encodeFrame(t, EventSubscribe, SubscribePayload{ConversationID: 3})
	fixture.router.Handle(context.Background(), client, frame)

	expectErrorEvent(t, client, ErrCodeNotMember)
	if fixture.hub.IsSubscribed(client, TopicForConversation(3)) {
		t.Fatal("non-member must not be subscribed")
	}
}

func TestSubscribeJoinsConversationTopic(t *testing.T) {
	fixture := newRouterFixture(&stubTokenValidator{}, &stubPublisher{}, &stubMembershipChecker{member: true})
	client := newTestClient(t, fixture.registry, fixture.hub, "alice")

	frame := encodeFrame(t, EventSubscribe, SubscribePayload{ConversationID: 3})
	fixture.router.Handle(context.Background(), client, frame)

	if !fixture.hub.IsSubscribed(client, TopicForConversation(3)) {
		t.Fatal("expected subscription to conversation topic")
	}
}

func TestPublishMessageAcksSender(t *testing.T) {
	chat := &stubPublisher{message: &models.Message{ID: 42, ConversationID: 3, Sender: "alice", Content: "hi"}}
	fixture := newRouterFixture(&stubTokenValidator{}, chat, &stubMembershipChecker{member: true})
	client := newTestClient(t, fixture.registry, fixture.hub, "alice")

	frame := encodeFrame(t, EventPublishMessage, PublishMessagePayload{ConversationID: 3, Content: "hi"})
	fixture.router.Handle(context.Background(), client, frame)

	event := receiveEvent(t, client)
	if event.Type != EventMessageSent {
		t.Fatalf("expected %s event, got %s", EventMessageSent, event.Type)
	}
	var message models.Message
	if err := json.Unmarshal(event.Data, &message); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if message.ID != 42 {
		t.Fatalf("expected acked message id 42, got %d", message.ID)
	}
}

func TestPublishMessageErrorMapsToCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"not member", apperrors.NewNotMemberError("nope"), ErrCodeNotMember},
		{"not found", apperrors.NewResourceNotFoundError("missing"), ErrCodeNotFound},
		{"persistence", apperrors.NewPersistenceError(errors.New("down"), "failed"), ErrCodePersistence},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fixture := newRouterFixture(&stubTokenValidator{}, &stubPublisher{err: tc.err}, &stubMembershipChecker{member: true})
			client := newTestClient(t, fixture.registry, fixture.hub, "alice")

			frame := encodeFrame(t, EventPublishMessage, PublishMessagePayload{ConversationID: 3, Content: "hi"})
			fixture.router.Handle(context.Background(), client, frame)

			expectErrorEvent(t, client, tc.code)
		})
	}
}

func TestMalformedFrameReportsBadPayload(t *testing.T) {
	fixture := newRouterFixture(&stubTokenValidator{}, &stubPublisher{}, &stubMembershipChecker{member: true})
	client := newTestClient(t, fixture.registry, fixture.hub, "alice")

	fixture.router.Handle(context.Background(), client, []byte("not json"))

	expectErrorEvent(t, client, ErrCodeBadPayload)
}

func TestHeartbeatAckResetsMissCounter(t *testing.T) {
	fixture := newRouterFixture(&stubTokenValidator{}, &stubPublisher{}, &stubMembershipChecker{member: true})
	client := newTestClient(t, fixture.registry, fixture.hub, "alice")
	client.missedAcks.Store(2)

	frame := encodeFrame(t, EventHeartbeatAck, nil)
	fixture.router.Handle(context.Background(), client, frame)

	if got := client.missedAcks.Load(); got != 0 {
		t.Fatalf("expected miss counter reset, got %d", got)
	}
}
