package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dkaya/wavelink/internal/pkg/apperrors"
	"github.com/dkaya/wavelink/internal/pkg/realtime"
)

// readStore abstracts per-message read row persistence. Marking is
// idempotent: re-acknowledging already-read messages changes nothing.
type readStore interface {
	MarkRead(ctx context.Context, messageIDs []int64, username string) error
	ReadMessageIDs(ctx context.Context, username string, messageIDs []int64) ([]int64, error)
}

// unreadAggregator is the fast path for unread totals. A store that cannot
// aggregate, or whose aggregate query fails, falls back to a snapshot count
// over readStore.
type unreadAggregator interface {
	UnreadCount(ctx context.Context, conversationID int64, username string) (int, error)
	UnreadCounts(ctx context.Context, username string) (map[int64]int, error)
}

// messageIDStore resolves message id snapshots for read accounting
type messageIDStore interface {
	IDs(ctx context.Context, conversationID int64, upTo *int64) ([]int64, error)
}

// readMembershipStore resolves membership for read accounting
type readMembershipStore interface {
	IsMember(ctx context.Context, conversationID int64, username string) (bool, error)
	Members(ctx context.Context, conversationID int64) ([]string, error)
	ConversationIDs(ctx context.Context, username string) ([]int64, error)
}

// ReadService defines the interface for read acknowledgment and unread
// accounting
type ReadService interface {
	MarkRead(ctx context.Context, conversationID int64, username string, upTo *int64) (int64, error)
	UnreadCount(ctx context.Context, conversationID int64, username string) (int, error)
	UnreadCounts(ctx context.Context, username string) (map[int64]int, error)
}

// readServiceImpl implements ReadService
type readServiceImpl struct {
	reads    readStore
	messages messageIDStore
	members  readMembershipStore
	fanout   MessageFanout
	logger   zerolog.Logger
}

// NewReadService creates a new ReadService
func NewReadService(
	reads readStore,
	messages messageIDStore,
	members readMembershipStore,
	fanout MessageFanout,
	logger zerolog.Logger,
) ReadService {
	return &readServiceImpl{
		reads:    reads,
		messages: messages,
		members:  members,
		fanout:   fanout,
		logger:   logger,
	}
}

// MarkRead acknowledges every message in the conversation up to the given
// bound (all messages when the bound is nil) and broadcasts the new read
// state to the conversation. Returns the highest acknowledged message id,
// or zero when there was nothing to acknowledge.
func (s *readServiceImpl) MarkRead(ctx context.Context, conversationID int64, username string, upTo *int64) (int64, error) {
	isMember, err := s.members.IsMember(ctx, conversationID, username)
	if err != nil {
		return 0, fmt.Errorf("error checking membership: %w", err)
	}
	if !isMember {
		return 0, apperrors.NewNotMemberError("not a member of this conversation")
	}

	ids, err := s.messages.IDs(ctx, conversationID, upTo)
	if err != nil {
		return 0, fmt.Errorf("error resolving message ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.reads.MarkRead(ctx, ids, username); err != nil {
		s.logger.Error().Err(err).
			Int64("conversationID", conversationID).
			Str("username", username).
			Msg("Failed to persist read acknowledgments")
		return 0, apperrors.NewPersistenceError(err, "read state could not be persisted")
	}

	// IDs come back in ascending order.
	maxID := ids[len(ids)-1]

	s.broadcastRead(ctx, conversationID, username, maxID)

	return maxID, nil
}

// broadcastRead fans the updated read state out to the conversation. The
// read rows are already persisted; delivery failures are logged and dropped.
func (s *readServiceImpl) broadcastRead(ctx context.Context, conversationID int64, username string, upTo int64) {
	payload := realtime.MessagesReadPayload{
		ConversationID: conversationID,
		Username:       username,
		UpTo:           upTo,
	}

	data, err := realtime.EncodeEvent(realtime.EventMessagesRead, payload)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("conversationID", conversationID).
			Msg("Failed to encode read event")
		return
	}

	members, err := s.members.Members(ctx, conversationID)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("conversationID", conversationID).
			Msg("Failed to resolve members for read broadcast")
		s.fanout.PublishToConversation(conversationID, data)
		return
	}

	for _, member := range members {
		s.fanout.DeliverToMember(conversationID, member, data)
	}
	s.fanout.PublishToConversation(conversationID, data)
}

// UnreadCount retrieves the number of messages in a conversation the user
// has not acknowledged
func (s *readServiceImpl) UnreadCount(ctx context.Context, conversationID int64, username string) (int, error) {
	isMember, err := s.members.IsMember(ctx, conversationID, username)
	if err != nil {
		return 0, fmt.Errorf("error checking membership: %w", err)
	}
	if !isMember {
		return 0, apperrors.NewNotMemberError("not a member of this conversation")
	}

	if aggregator, ok := s.reads.(unreadAggregator); ok {
		count, err := aggregator.UnreadCount(ctx, conversationID, username)
		if err == nil {
			return count, nil
		}
		s.logger.Warn().Err(err).
			Int64("conversationID", conversationID).
			Str("username", username).
			Msg("Unread aggregate failed, counting from snapshot")
	}

	return s.countFromSnapshot(ctx, conversationID, username)
}

// UnreadCounts retrieves unread totals for every conversation the user
// belongs to
func (s *readServiceImpl) UnreadCounts(ctx context.Context, username string) (map[int64]int, error) {
	if aggregator, ok := s.reads.(unreadAggregator); ok {
		counts, err := aggregator.UnreadCounts(ctx, username)
		if err == nil {
			return counts, nil
		}
		s.logger.Warn().Err(err).
			Str("username", username).
			Msg("Unread aggregate failed, counting from snapshots")
	}

	conversationIDs, err := s.members.ConversationIDs(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("error resolving conversations: %w", err)
	}

	counts := make(map[int64]int, len(conversationIDs))
	for _, conversationID := range conversationIDs {
		count, err := s.countFromSnapshot(ctx, conversationID, username)
		if err != nil {
			return nil, err
		}
		counts[conversationID] = count
	}

	return counts, nil
}

// countFromSnapshot computes unread as total minus read over a single
// message id snapshot, so a concurrent publish cannot skew the difference.
func (s *readServiceImpl) countFromSnapshot(ctx context.Context, conversationID int64, username string) (int, error) {
	ids, err := s.messages.IDs(ctx, conversationID, nil)
	if err != nil {
		return 0, fmt.Errorf("error resolving message ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	read, err := s.reads.ReadMessageIDs(ctx, username, ids)
	if err != nil {
		return 0, fmt.Errorf("error resolving read ids: %w", err)
	}

	return len(ids) - len(read), nil
}
