package services

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/dkaya/wavelink/internal/app/models"
	"github.com/dkaya/wavelink/internal/pkg/apperrors"
)

type stubConversationStore struct {
	nextID        int64
	conversations map[int64]*models.Conversation
	byCommunity   map[int64]*models.Conversation
	createErr     error
	createErrHook func()
	createCalls   int
}

func newStubConversationStore() *stubConversationStore {
	return &stubConversationStore{
		conversations: make(map[int64]*models.Conversation),
		byCommunity:   make(map[int64]*models.Conversation),
	}
}

func (s *stubConversationStore) GetByID(_ context.Context, id int64) (*models.Conversation, error) {
	return s.conversations[id], nil
}

func (s *stubConversationStore) GetByCommunityID(_ context.Context, communityID int64) (*models.Conversation, error) {
	return s.byCommunity[communityID], nil
}

func (s *stubConversationStore) GetDirectBetween(_ context.Context, userA, userB string) (*models.Conversation, error) {
	for _, conv := range s.conversations {
		if conv.Kind != models.ConversationKindDirect || len(conv.Members) != 2 {
			continue
		}
		var hasA, hasB bool
		for _, member := range conv.Members {
			if member.Username == userA {
				hasA = true
			}
			if member.Username == userB {
				hasB = true
			}
		}
		if hasA && hasB {
			return conv, nil
		}
	}
	return nil, nil
}

func (s *stubConversationStore) ListForUser(_ context.Context, username string) ([]*models.Conversation, error) {
	var result []*models.Conversation
	for _, conv := range s.conversations {
		for _, member := range conv.Members {
			if member.Username == username {
				result = append(result, conv)
				break
			}
		}
	}
	return result, nil
}

func (s *stubConversationStore) CreateWithMembers(
	_ context.Context,
	kind models.ConversationKind,
	communityID *int64,
	createdBy string,
	members []*models.ConversationMember,
) (*models.Conversation, error) {
	s.createCalls++
	if s.createErr != nil {
		if s.createErrHook != nil {
			s.createErrHook()
		}
		return nil, s.createErr
	}

	s.nextID++
	conv := &models.Conversation{
		ID:          s.nextID,
		Kind:        kind,
		CommunityID: communityID,
		CreatedBy:   createdBy,
		Members:     members,
	}
	for _, member := range members {
		member.ConversationID = conv.ID
	}
	s.conversations[conv.ID] = conv
	if communityID != nil {
		s.byCommunity[*communityID] = conv
	}
	return conv, nil
}

type stubMemberEditor struct {
	members map[int64][]string
	added   []fanoutCall
	removed []fanoutCall
}

func (s *stubMemberEditor) IsMember(_ context.Context, conversationID int64, username string) (bool, error) {
	for _, member := range s.members[conversationID] {
		if member == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubMemberEditor) Members(_ context.Context, conversationID int64) ([]string, error) {
	return s.members[conversationID], nil
}

func (s *stubMemberEditor) Add(_ context.Context, conversationID int64, username string, _ models.MemberRole) error {
	if s.members == nil {
		s.members = make(map[int64][]string)
	}
	s.members[conversationID] = append(s.members[conversationID], username)
	s.added = append(s.added, fanoutCall{conversationID: conversationID, username: username})
	return nil
}

func (s *stubMemberEditor) Remove(_ context.Context, conversationID int64, username string) error {
	s.removed = append(s.removed, fanoutCall{conversationID: conversationID, username: username})
	return nil
}

type stubUserStore struct {
	known map[string]bool
}

func (s *stubUserStore) Exists(_ context.Context, username string) (bool, error) {
	return s.known[username], nil
}

type stubCommunityStore struct {
	rosters map[int64][]string
}

func (s *stubCommunityStore) ApprovedMembers(_ context.Context, communityID int64) ([]string, error) {
	return s.rosters[communityID], nil
}

type stubUnreadCounter struct {
	counts map[int64]int
}

func (s *stubUnreadCounter) UnreadCounts(context.Context, string) (map[int64]int, error) {
	return s.counts, nil
}

type stubDetacher struct {
	detached []fanoutCall
}

func (s *stubDetacher) DetachMember(conversationID int64, username string) {
	s.detached = append(s.detached, fanoutCall{conversationID: conversationID, username: username})
}

func newConversationFixture(store *stubConversationStore, members *stubMemberEditor, users *stubUserStore, communities *stubCommunityStore) ConversationService {
	return NewConversationService(store, members, users, communities, &stubUnreadCounter{}, &stubDetacher{}, zerolog.Nop())
}

func TestGetOrCreateDirectCreatesThenReuses(t *testing.T) {
	store := newStubConversationStore()
	users := &stubUserStore{known: map[string]bool{"alice": true, "bob": true}}
	service := newConversationFixture(store, &stubMemberEditor{}, users, &stubCommunityStore{})

	first, err := service.GetOrCreateDirect(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.Reused {
		t.Fatal("first resolve must create, not reuse")
	}

	second, err := service.GetOrCreateDirect(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !second.Reused {
		t.Fatal("second resolve must reuse the existing conversation")
	}
	if first.Conversation.ID != second.Conversation.ID {
		t.Fatalf("expected the same conversation, got %d and %d", first.Conversation.ID, second.Conversation.ID)
	}
	if store.createCalls != 1 {
		t.Fatalf("expected 1 create, got %d", store.createCalls)
	}

	// The pair resolves identically from the peer's side.
	third, err := service.GetOrCreateDirect(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("reverse resolve: %v", err)
	}
	if !third.Reused || third.Conversation.ID != first.Conversation.ID {
		t.Fatal("pair order must not affect identity resolution")
	}
}

func TestGetOrCreateDirectRejectsSelf(t *testing.T) {
	service := newConversationFixture(newStubConversationStore(), &stubMemberEditor{}, &stubUserStore{known: map[string]bool{"alice": true}}, &stubCommunityStore{})

	_, err := service.GetOrCreateDirect(context.Background(), "alice", "alice")
	if !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for self conversation, got %v", err)
	}
}

func TestGetOrCreateDirectUnknownPeer(t *testing.T) {
	service := newConversationFixture(newStubConversationStore(), &stubMemberEditor{}, &stubUserStore{known: map[string]bool{"alice": true}}, &stubCommunityStore{})

	_, err := service.GetOrCreateDirect(context.Background(), "alice", "ghost")
	if !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestGetOrCreateDirectRequiresExactPair(t *testing.T) {
	store := newStubConversationStore()
	// A conversation that merely contains the pair among others must not
	// resolve as their direct conversation.
	store.nextID++
	store.conversations[store.nextID] = &models.Conversation{
		ID:        store.nextID,
		Kind:      models.ConversationKindDirect,
		CreatedBy: "alice",
		Members: []*models.ConversationMember{
			{ConversationID: store.nextID, Username: "alice"},
			{ConversationID: store.nextID, Username: "bob"},
			{ConversationID: store.nextID, Username: "carol"},
		},
	}
	users := &stubUserStore{known: map[string]bool{"alice": true, "bob": true}}
	service := newConversationFixture(store, &stubMemberEditor{}, users, &stubCommunityStore{})

	response, err := service.GetOrCreateDirect(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCreateDirect: %v", err)
	}
	if response.Reused {
		t.Fatal("a wider member set must not be reused as the direct conversation")
	}
	if store.createCalls != 1 {
		t.Fatalf("expected a fresh conversation, got %d creates", store.createCalls)
	}
}

func TestGetOrCreateDirectUnknownActor(t *testing.T) {
	store := newStubConversationStore()
	service := newConversationFixture(store, &stubMemberEditor{}, &stubUserStore{known: map[string]bool{"bob": true}}, &stubCommunityStore{})

	// A valid token whose identity was never provisioned must fail cleanly
	// instead of hitting the member insert.
	_, err := service.GetOrCreateDirect(context.Background(), "ghost", "bob")
	if !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	if store.createCalls != 0 {
		t.Fatalf("expected no create attempt, got %d", store.createCalls)
	}
}

func TestCreateGroupIncludesCreatorAsOwner(t *testing.T) {
	store := newStubConversationStore()
	users := &stubUserStore{known: map[string]bool{"alice": true, "bob": true, "carol": true}}
	service := newConversationFixture(store, &stubMemberEditor{}, users, &stubCommunityStore{})

	response, err := service.CreateGroup(context.Background(), "alice", []string{"bob", "carol", "bob"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	conv := store.conversations[response.ID]
	if conv == nil {
		t.Fatal("conversation not persisted")
	}
	if len(conv.Members) != 3 {
		t.Fatalf("expected 3 members after dedup, got %d", len(conv.Members))
	}
	var creatorRole models.MemberRole
	for _, member := range conv.Members {
		if member.Username == "alice" {
			creatorRole = member.Role
		}
	}
	if creatorRole != models.MemberRoleOwner {
		t.Fatalf("expected creator role OWNER, got %s", creatorRole)
	}
}

func TestCreateGroupRequiresAnotherMember(t *testing.T) {
	users := &stubUserStore{known: map[string]bool{"alice": true}}
	service := newConversationFixture(newStubConversationStore(), &stubMemberEditor{}, users, &stubCommunityStore{})

	_, err := service.CreateGroup(context.Background(), "alice", []string{"alice"})
	if !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for solo group, got %v", err)
	}
}

func TestCommunityChatCreatesLazilyFromRoster(t *testing.T) {
	store := newStubConversationStore()
	communities := &stubCommunityStore{rosters: map[int64][]string{10: {"alice", "bob"}}}
	service := newConversationFixture(store, &stubMemberEditor{}, &stubUserStore{}, communities)

	response, err := service.GetOrCreateCommunityChat(context.Background(), 10, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateCommunityChat: %v", err)
	}
	if response.Reused {
		t.Fatal("first access must create the conversation")
	}
	if got := len(response.Conversation.Members); got != 2 {
		t.Fatalf("expected the approved roster as members, got %d", got)
	}

	again, err := service.GetOrCreateCommunityChat(context.Background(), 10, "alice")
	if err != nil {
		t.Fatalf("second access: %v", err)
	}
	if !again.Reused || again.Conversation.ID != response.Conversation.ID {
		t.Fatal("second access must resolve to the same conversation")
	}
	if store.createCalls != 1 {
		t.Fatalf("expected a single create, got %d", store.createCalls)
	}
}

func TestCommunityChatRejectsNonRosterActor(t *testing.T) {
	communities := &stubCommunityStore{rosters: map[int64][]string{10: {"alice", "bob"}}}
	service := newConversationFixture(newStubConversationStore(), &stubMemberEditor{}, &stubUserStore{}, communities)

	_, err := service.GetOrCreateCommunityChat(context.Background(), 10, "mallory")
	if !errors.Is(err, apperrors.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestCommunityChatCreateRaceResolvesToWinner(t *testing.T) {
	store := newStubConversationStore()
	store.createErr = &pgconn.PgError{Code: "23505", ConstraintName: "conversations_community_id_key"}
	winner := &models.Conversation{
		ID:        7,
		Kind:      models.ConversationKindCommunity,
		CreatedBy: "bob",
		Members: []*models.ConversationMember{
			{ConversationID: 7, Username: "alice"},
			{ConversationID: 7, Username: "bob"},
		},
	}
	communities := &stubCommunityStore{rosters: map[int64][]string{10: {"alice", "bob"}}}
	service := newConversationFixture(store, &stubMemberEditor{}, &stubUserStore{}, communities)

	// The losing create re-fetches whatever the winner persisted.
	store.createErrHook = func() {
		store.byCommunity[10] = winner
	}

	response, err := service.GetOrCreateCommunityChat(context.Background(), 10, "alice")
	if err != nil {
		t.Fatalf("expected race to resolve, got %v", err)
	}
	if !response.Reused || response.Conversation.ID != 7 {
		t.Fatalf("expected winner's conversation 7 reused, got id=%d reused=%v", response.Conversation.ID, response.Reused)
	}
}

func seedGroup(store *stubConversationStore, creator string, others ...string) *models.Conversation {
	store.nextID++
	conv := &models.Conversation{
		ID:        store.nextID,
		Kind:      models.ConversationKindGroup,
		CreatedBy: creator,
	}
	conv.Members = append(conv.Members, &models.ConversationMember{
		ConversationID: conv.ID, Username: creator, Role: models.MemberRoleOwner,
	})
	for _, username := range others {
		conv.Members = append(conv.Members, &models.ConversationMember{
			ConversationID: conv.ID, Username: username, Role: models.MemberRoleMember,
		})
	}
	store.conversations[conv.ID] = conv
	return conv
}

func TestAddGroupMember(t *testing.T) {
	store := newStubConversationStore()
	conv := seedGroup(store, "alice", "bob")
	members := &stubMemberEditor{}
	users := &stubUserStore{known: map[string]bool{"carol": true}}
	service := newConversationFixture(store, members, users, &stubCommunityStore{})

	if err := service.AddGroupMember(context.Background(), conv.ID, "alice", "carol"); err != nil {
		t.Fatalf("AddGroupMember: %v", err)
	}
	if len(members.added) != 1 || members.added[0].username != "carol" {
		t.Fatalf("expected carol added, got %v", members.added)
	}
}

func TestAddGroupMemberRequiresCreator(t *testing.T) {
	store := newStubConversationStore()
	conv := seedGroup(store, "alice", "bob")
	users := &stubUserStore{known: map[string]bool{"carol": true}}
	service := newConversationFixture(store, &stubMemberEditor{}, users, &stubCommunityStore{})

	err := service.AddGroupMember(context.Background(), conv.ID, "bob", "carol")
	if !errors.Is(err, apperrors.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestAddGroupMemberUnknownUser(t *testing.T) {
	store := newStubConversationStore()
	conv := seedGroup(store, "alice", "bob")
	service := newConversationFixture(store, &stubMemberEditor{}, &stubUserStore{}, &stubCommunityStore{})

	err := service.AddGroupMember(context.Background(), conv.ID, "alice", "ghost")
	if !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestAddGroupMemberRejectsNonGroup(t *testing.T) {
	store := newStubConversationStore()
	store.conversations[1] = &models.Conversation{ID: 1, Kind: models.ConversationKindDirect, CreatedBy: "alice"}
	users := &stubUserStore{known: map[string]bool{"carol": true}}
	service := newConversationFixture(store, &stubMemberEditor{}, users, &stubCommunityStore{})

	err := service.AddGroupMember(context.Background(), 1, "alice", "carol")
	if !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for non-group conversation, got %v", err)
	}
}

func TestRemoveGroupMember(t *testing.T) {
	store := newStubConversationStore()
	conv := seedGroup(store, "alice", "bob")
	members := &stubMemberEditor{}
	live := &stubDetacher{}
	service := NewConversationService(store, members, &stubUserStore{}, &stubCommunityStore{}, &stubUnreadCounter{}, live, zerolog.Nop())

	if err := service.RemoveGroupMember(context.Background(), conv.ID, "alice", "bob"); err != nil {
		t.Fatalf("creator removing member: %v", err)
	}
	if len(members.removed) != 1 || members.removed[0].username != "bob" {
		t.Fatalf("expected bob removed, got %v", members.removed)
	}

	// Removal also detaches bob's live connections from the conversation
	// topic so he receives nothing published after losing membership.
	if len(live.detached) != 1 || live.detached[0].username != "bob" || live.detached[0].conversationID != conv.ID {
		t.Fatalf("expected bob detached from conversation %d, got %v", conv.ID, live.detached)
	}
}

func TestRemoveGroupMemberSelfLeave(t *testing.T) {
	store := newStubConversationStore()
	conv := seedGroup(store, "alice", "bob")
	members := &stubMemberEditor{}
	service := newConversationFixture(store, members, &stubUserStore{}, &stubCommunityStore{})

	if err := service.RemoveGroupMember(context.Background(), conv.ID, "bob", "bob"); err != nil {
		t.Fatalf("self leave: %v", err)
	}
	if len(members.removed) != 1 || members.removed[0].username != "bob" {
		t.Fatalf("expected bob removed, got %v", members.removed)
	}
}

func TestRemoveGroupMemberProtectsCreator(t *testing.T) {
	store := newStubConversationStore()
	conv := seedGroup(store, "alice", "bob")
	service := newConversationFixture(store, &stubMemberEditor{}, &stubUserStore{}, &stubCommunityStore{})

	err := service.RemoveGroupMember(context.Background(), conv.ID, "alice", "alice")
	if !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest removing the creator, got %v", err)
	}
}

func TestRemoveGroupMemberRequiresCreatorForOthers(t *testing.T) {
	store := newStubConversationStore()
	conv := seedGroup(store, "alice", "bob", "carol")
	service := newConversationFixture(store, &stubMemberEditor{}, &stubUserStore{}, &stubCommunityStore{})

	err := service.RemoveGroupMember(context.Background(), conv.ID, "bob", "carol")
	if !errors.Is(err, apperrors.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestMirrorJoinWithoutConversationIsNoop(t *testing.T) {
	members := &stubMemberEditor{}
	service := newConversationFixture(newStubConversationStore(), members, &stubUserStore{}, &stubCommunityStore{})

	if err := service.MirrorCommunityJoin(context.Background(), 10, "alice"); err != nil {
		t.Fatalf("mirror join without conversation: %v", err)
	}
	if len(members.added) != 0 {
		t.Fatal("no member row expected before the conversation exists")
	}
}

func TestMirrorJoinAndLeaveUpdateMembership(t *testing.T) {
	store := newStubConversationStore()
	communityID := int64(10)
	members := &stubMemberEditor{}
	live := &stubDetacher{}
	communities := &stubCommunityStore{rosters: map[int64][]string{10: {"alice"}}}
	service := NewConversationService(store, members, &stubUserStore{}, communities, &stubUnreadCounter{}, live, zerolog.Nop())

	if _, err := service.GetOrCreateCommunityChat(context.Background(), communityID, "alice"); err != nil {
		t.Fatalf("create community chat: %v", err)
	}
	conv := store.byCommunity[communityID]

	if err := service.MirrorCommunityJoin(context.Background(), communityID, "bob"); err != nil {
		t.Fatalf("mirror join: %v", err)
	}
	if len(members.added) != 1 || members.added[0].username != "bob" || members.added[0].conversationID != conv.ID {
		t.Fatalf("expected bob added to conversation %d, got %v", conv.ID, members.added)
	}

	if err := service.MirrorCommunityLeave(context.Background(), communityID, "bob"); err != nil {
		t.Fatalf("mirror leave: %v", err)
	}
	if len(members.removed) != 1 || members.removed[0].username != "bob" {
		t.Fatalf("expected bob removed, got %v", members.removed)
	}
	if len(live.detached) != 1 || live.detached[0].username != "bob" || live.detached[0].conversationID != conv.ID {
		t.Fatalf("expected bob detached from conversation %d, got %v", conv.ID, live.detached)
	}
}
