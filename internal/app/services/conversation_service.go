package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dkaya/wavelink/internal/app/models"
	"github.com/dkaya/wavelink/internal/app/models/dto"
	"github.com/dkaya/wavelink/internal/pkg/apperrors"
	"github.com/dkaya/wavelink/internal/pkg/dberrors"
)

// conversationStore abstracts conversation persistence for the resolver
type conversationStore interface {
	GetByID(ctx context.Context, id int64) (*models.Conversation, error)
	GetByCommunityID(ctx context.Context, communityID int64) (*models.Conversation, error)
	GetDirectBetween(ctx context.Context, userA, userB string) (*models.Conversation, error)
	ListForUser(ctx context.Context, username string) ([]*models.Conversation, error)
	CreateWithMembers(ctx context.Context, kind models.ConversationKind, communityID *int64, createdBy string, members []*models.ConversationMember) (*models.Conversation, error)
}

// memberEditor abstracts member row mutations for the resolver
type memberEditor interface {
	IsMember(ctx context.Context, conversationID int64, username string) (bool, error)
	Members(ctx context.Context, conversationID int64) ([]string, error)
	Add(ctx context.Context, conversationID int64, username string, role models.MemberRole) error
	Remove(ctx context.Context, conversationID int64, username string) error
}

// userStore reports whether a username is known to the system
type userStore interface {
	Exists(ctx context.Context, username string) (bool, error)
}

// communityStore resolves the approved member roster of a community
type communityStore interface {
	ApprovedMembers(ctx context.Context, communityID int64) ([]string, error)
}

// unreadCounter resolves per-conversation unread totals for the listing
type unreadCounter interface {
	UnreadCounts(ctx context.Context, username string) (map[int64]int, error)
}

// memberDetacher drops a removed member's live topic subscriptions so they
// stop receiving conversation broadcasts the moment membership ends
type memberDetacher interface {
	DetachMember(conversationID int64, username string)
}

// ConversationService resolves conversation identities. Direct pairs and
// communities map to at most one conversation each; resolving an existing
// identity returns it instead of creating a duplicate.
type ConversationService interface {
	GetOrCreateDirect(ctx context.Context, actor, peer string) (*dto.ConversationCreatedResponse, error)
	CreateGroup(ctx context.Context, creator string, members []string) (*dto.ConversationResponse, error)
	GetOrCreateCommunityChat(ctx context.Context, communityID int64, actor string) (*dto.ConversationCreatedResponse, error)
	GetConversation(ctx context.Context, conversationID int64, username string) (*dto.ConversationResponse, error)
	ListForUser(ctx context.Context, username string) ([]dto.ConversationResponse, error)
	AddGroupMember(ctx context.Context, conversationID int64, actor, username string) error
	RemoveGroupMember(ctx context.Context, conversationID int64, actor, username string) error
	MirrorCommunityJoin(ctx context.Context, communityID int64, username string) error
	MirrorCommunityLeave(ctx context.Context, communityID int64, username string) error
}

// conversationServiceImpl implements ConversationService
type conversationServiceImpl struct {
	conversations conversationStore
	members       memberEditor
	users         userStore
	communities   communityStore
	unread        unreadCounter
	live          memberDetacher
	logger        zerolog.Logger

	// mu guards pairLocks; concurrent direct resolutions for the same
	// unordered pair serialize so only one of them creates.
	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// NewConversationService creates a new ConversationService
func NewConversationService(
	conversations conversationStore,
	members memberEditor,
	users userStore,
	communities communityStore,
	unread unreadCounter,
	live memberDetacher,
	logger zerolog.Logger,
) ConversationService {
	return &conversationServiceImpl{
		conversations: conversations,
		members:       members,
		users:         users,
		communities:   communities,
		unread:        unread,
		live:          live,
		logger:        logger,
		pairLocks:     make(map[string]*sync.Mutex),
	}
}

func (s *conversationServiceImpl) pairLock(userA, userB string) *sync.Mutex {
	if userB < userA {
		userA, userB = userB, userA
	}
	key := userA + "\x00" + userB

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.pairLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.pairLocks[key] = lock
	}
	return lock
}

// GetOrCreateDirect resolves the single direct conversation between actor
// and peer, creating it on first use. The response reports whether an
// existing conversation was reused.
func (s *conversationServiceImpl) GetOrCreateDirect(ctx context.Context, actor, peer string) (*dto.ConversationCreatedResponse, error) {
	if actor == peer {
		return nil, apperrors.NewBadRequestError("a direct conversation requires two distinct users")
	}

	for _, username := range []string{actor, peer} {
		exists, err := s.users.Exists(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("error checking user: %w", err)
		}
		if !exists {
			return nil, apperrors.NewResourceNotFoundError(fmt.Sprintf("User not found: %s", username))
		}
	}

	lock := s.pairLock(actor, peer)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.conversations.GetDirectBetween(ctx, actor, peer)
	if err != nil {
		return nil, fmt.Errorf("error resolving direct conversation: %w", err)
	}

	if existing != nil {
		return s.resolvedResponse(ctx, existing, true)
	}

	members := []*models.ConversationMember{
		{Username: actor, Role: models.MemberRoleOwner},
		{Username: peer, Role: models.MemberRoleMember},
	}

	conversation, err := s.conversations.CreateWithMembers(ctx, models.ConversationKindDirect, nil, actor, members)
	if err != nil {
		s.logger.Error().Err(err).
			Str("actor", actor).
			Str("peer", peer).
			Msg("Failed to create direct conversation")
		return nil, apperrors.NewPersistenceError(err, "conversation could not be created")
	}

	s.logger.Info().
		Int64("conversationID", conversation.ID).
		Str("actor", actor).
		Str("peer", peer).
		Msg("Created direct conversation")

	return s.resolvedResponse(ctx, conversation, false)
}

// CreateGroup creates a group conversation. Group identities are never
// deduplicated: every call creates a fresh conversation. The creator is
// always a member and owns the conversation.
func (s *conversationServiceImpl) CreateGroup(ctx context.Context, creator string, members []string) (*dto.ConversationResponse, error) {
	roster := map[string]models.MemberRole{creator: models.MemberRoleOwner}
	for _, member := range members {
		if member == creator {
			continue
		}

		exists, err := s.users.Exists(ctx, member)
		if err != nil {
			return nil, fmt.Errorf("error checking user: %w", err)
		}
		if !exists {
			return nil, apperrors.NewResourceNotFoundError(fmt.Sprintf("User not found: %s", member))
		}

		roster[member] = models.MemberRoleMember
	}

	if len(roster) < 2 {
		return nil, apperrors.NewBadRequestError("a group conversation requires at least one member besides the creator")
	}

	usernames := make([]string, 0, len(roster))
	for username := range roster {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)

	memberRows := make([]*models.ConversationMember, 0, len(usernames))
	for _, username := range usernames {
		memberRows = append(memberRows, &models.ConversationMember{Username: username, Role: roster[username]})
	}

	conversation, err := s.conversations.CreateWithMembers(ctx, models.ConversationKindGroup, nil, creator, memberRows)
	if err != nil {
		s.logger.Error().Err(err).
			Str("creator", creator).
			Msg("Failed to create group conversation")
		return nil, apperrors.NewPersistenceError(err, "conversation could not be created")
	}

	s.logger.Info().
		Int64("conversationID", conversation.ID).
		Str("creator", creator).
		Int("members", len(memberRows)).
		Msg("Created group conversation")

	response := dto.ToConversationResponse(conversation)
	return &response, nil
}

// GetOrCreateCommunityChat resolves the single conversation bound to a
// community, creating it lazily from the community's approved roster on
// first access. A unique constraint on the community id makes concurrent
// first accesses converge on one conversation.
func (s *conversationServiceImpl) GetOrCreateCommunityChat(ctx context.Context, communityID int64, actor string) (*dto.ConversationCreatedResponse, error) {
	existing, err := s.conversations.GetByCommunityID(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("error resolving community conversation: %w", err)
	}

	if existing != nil {
		if err := s.ensureCommunityMember(ctx, existing.ID, communityID, actor); err != nil {
			return nil, err
		}
		return s.resolvedResponse(ctx, existing, true)
	}

	roster, err := s.communities.ApprovedMembers(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("error resolving community roster: %w", err)
	}

	if len(roster) == 0 {
		return nil, apperrors.NewResourceNotFoundError("Community not found")
	}

	actorApproved := false
	memberRows := make([]*models.ConversationMember, 0, len(roster))
	for _, username := range roster {
		if username == actor {
			actorApproved = true
		}
		memberRows = append(memberRows, &models.ConversationMember{Username: username, Role: models.MemberRoleMember})
	}

	if !actorApproved {
		return nil, apperrors.NewNotMemberError("not an approved member of this community")
	}

	conversation, err := s.conversations.CreateWithMembers(ctx, models.ConversationKindCommunity, &communityID, actor, memberRows)
	if err != nil {
		if dberrors.IsDuplicateConstraintError(err, "conversations_community_id_key") {
			// Another request created it first; resolve to that one.
			created, fetchErr := s.conversations.GetByCommunityID(ctx, communityID)
			if fetchErr == nil && created != nil {
				return s.resolvedResponse(ctx, created, true)
			}
		}

		s.logger.Error().Err(err).
			Int64("communityID", communityID).
			Msg("Failed to create community conversation")
		return nil, apperrors.NewPersistenceError(err, "conversation could not be created")
	}

	s.logger.Info().
		Int64("conversationID", conversation.ID).
		Int64("communityID", communityID).
		Int("members", len(memberRows)).
		Msg("Created community conversation")

	return s.resolvedResponse(ctx, conversation, false)
}

// ensureCommunityMember backfills a member row for users who joined the
// community after its conversation was created
func (s *conversationServiceImpl) ensureCommunityMember(ctx context.Context, conversationID, communityID int64, username string) error {
	isMember, err := s.members.IsMember(ctx, conversationID, username)
	if err != nil {
		return fmt.Errorf("error checking membership: %w", err)
	}
	if isMember {
		return nil
	}

	roster, err := s.communities.ApprovedMembers(ctx, communityID)
	if err != nil {
		return fmt.Errorf("error resolving community roster: %w", err)
	}

	for _, approved := range roster {
		if approved == username {
			return s.members.Add(ctx, conversationID, username, models.MemberRoleMember)
		}
	}

	return apperrors.NewNotMemberError("not an approved member of this community")
}

// GetConversation retrieves a conversation visible to the given member
func (s *conversationServiceImpl) GetConversation(ctx context.Context, conversationID int64, username string) (*dto.ConversationResponse, error) {
	isMember, err := s.members.IsMember(ctx, conversationID, username)
	if err != nil {
		return nil, fmt.Errorf("error checking membership: %w", err)
	}
	if !isMember {
		return nil, apperrors.NewNotMemberError("not a member of this conversation")
	}

	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving conversation: %w", err)
	}
	if conversation == nil {
		return nil, apperrors.NewResourceNotFoundError("Conversation not found")
	}

	response, err := s.withMembers(ctx, conversation)
	if err != nil {
		return nil, err
	}
	return response, nil
}

// ListForUser retrieves every conversation the user belongs to, annotated
// with unread counts
func (s *conversationServiceImpl) ListForUser(ctx context.Context, username string) ([]dto.ConversationResponse, error) {
	conversations, err := s.conversations.ListForUser(ctx, username)
	if err != nil {
		s.logger.Error().Err(err).
			Str("username", username).
			Msg("Failed to list conversations")
		return nil, fmt.Errorf("error listing conversations: %w", err)
	}

	counts, err := s.unread.UnreadCounts(ctx, username)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("username", username).
			Msg("Failed to resolve unread counts for listing")
		counts = nil
	}

	responses := make([]dto.ConversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		response := dto.ToConversationResponse(conversation)
		if counts != nil {
			count := counts[conversation.ID]
			response.UnreadCount = &count
		}
		responses = append(responses, response)
	}

	return responses, nil
}

// AddGroupMember adds a user to a group conversation. Only the creator may
// extend the member set; direct and community member sets are managed by
// their own resolution paths.
func (s *conversationServiceImpl) AddGroupMember(ctx context.Context, conversationID int64, actor, username string) error {
	conversation, err := s.groupForEdit(ctx, conversationID)
	if err != nil {
		return err
	}

	if conversation.CreatedBy != actor {
		return apperrors.NewForbiddenError("only the group creator can add members")
	}

	exists, err := s.users.Exists(ctx, username)
	if err != nil {
		return fmt.Errorf("error checking user: %w", err)
	}
	if !exists {
		return apperrors.NewResourceNotFoundError("User not found")
	}

	if err := s.members.Add(ctx, conversationID, username, models.MemberRoleMember); err != nil {
		return apperrors.NewPersistenceError(err, "membership could not be updated")
	}

	return nil
}

// RemoveGroupMember removes a user from a group conversation. The creator
// may remove anyone but themselves; any member may leave on their own.
func (s *conversationServiceImpl) RemoveGroupMember(ctx context.Context, conversationID int64, actor, username string) error {
	conversation, err := s.groupForEdit(ctx, conversationID)
	if err != nil {
		return err
	}

	if username == conversation.CreatedBy {
		return apperrors.NewBadRequestError("the group creator cannot be removed")
	}

	if actor != username && actor != conversation.CreatedBy {
		return apperrors.NewForbiddenError("only the group creator can remove other members")
	}

	if err := s.members.Remove(ctx, conversationID, username); err != nil {
		return apperrors.NewPersistenceError(err, "membership could not be updated")
	}

	s.live.DetachMember(conversationID, username)

	return nil
}

func (s *conversationServiceImpl) groupForEdit(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving conversation: %w", err)
	}
	if conversation == nil {
		return nil, apperrors.NewResourceNotFoundError("Conversation not found")
	}
	if conversation.Kind != models.ConversationKindGroup {
		return nil, apperrors.NewBadRequestError("membership edits only apply to group conversations")
	}
	return conversation, nil
}

// MirrorCommunityJoin reflects a community join into the community's
// conversation membership. A community without a conversation yet is a
// no-op; the roster is captured when the conversation is first resolved.
func (s *conversationServiceImpl) MirrorCommunityJoin(ctx context.Context, communityID int64, username string) error {
	conversation, err := s.conversations.GetByCommunityID(ctx, communityID)
	if err != nil {
		return fmt.Errorf("error resolving community conversation: %w", err)
	}
	if conversation == nil {
		return nil
	}

	if err := s.members.Add(ctx, conversation.ID, username, models.MemberRoleMember); err != nil {
		s.logger.Error().Err(err).
			Int64("communityID", communityID).
			Str("username", username).
			Msg("Failed to mirror community join")
		return apperrors.NewPersistenceError(err, "membership could not be updated")
	}

	return nil
}

// MirrorCommunityLeave reflects a community leave into the community's
// conversation membership
func (s *conversationServiceImpl) MirrorCommunityLeave(ctx context.Context, communityID int64, username string) error {
	conversation, err := s.conversations.GetByCommunityID(ctx, communityID)
	if err != nil {
		return fmt.Errorf("error resolving community conversation: %w", err)
	}
	if conversation == nil {
		return nil
	}

	if err := s.members.Remove(ctx, conversation.ID, username); err != nil {
		s.logger.Error().Err(err).
			Int64("communityID", communityID).
			Str("username", username).
			Msg("Failed to mirror community leave")
		return apperrors.NewPersistenceError(err, "membership could not be updated")
	}

	s.live.DetachMember(conversation.ID, username)

	return nil
}

func (s *conversationServiceImpl) withMembers(ctx context.Context, conversation *models.Conversation) (*dto.ConversationResponse, error) {
	response := dto.ToConversationResponse(conversation)

	if len(response.Members) == 0 {
		members, err := s.members.Members(ctx, conversation.ID)
		if err != nil {
			return nil, fmt.Errorf("error retrieving members: %w", err)
		}
		response.Members = members
	}

	return &response, nil
}

func (s *conversationServiceImpl) resolvedResponse(ctx context.Context, conversation *models.Conversation, reused bool) (*dto.ConversationCreatedResponse, error) {
	response, err := s.withMembers(ctx, conversation)
	if err != nil {
		return nil, err
	}

	return &dto.ConversationCreatedResponse{Conversation: *response, Reused: reused}, nil
}
