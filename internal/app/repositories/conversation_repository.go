package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkaya/wavelink/internal/app/models"
	"github.com/dkaya/wavelink/internal/db"
)

// ConversationRepository handles database operations for conversations
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository creates a new ConversationRepository
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetByID retrieves a conversation by its ID
func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	query := `
		SELECT id, kind, community_id, created_by, created_at
		FROM conversations
		WHERE id = $1
	`

	var conv models.Conversation
	err := r.db.QueryRow(ctx, query, id).Scan(
		&conv.ID,
		&conv.Kind,
		&conv.CommunityID,
		&conv.CreatedBy,
		&conv.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error retrieving conversation: %w", err)
	}

	return &conv, nil
}

// GetByCommunityID retrieves the conversation bound to a community, if any
func (r *ConversationRepository) GetByCommunityID(ctx context.Context, communityID int64) (*models.Conversation, error) {
	query := `
		SELECT id, kind, community_id, created_by, created_at
		FROM conversations
		WHERE community_id = $1
	`

	var conv models.Conversation
	err := r.db.QueryRow(ctx, query, communityID).Scan(
		&conv.ID,
		&conv.Kind,
		&conv.CommunityID,
		&conv.CreatedBy,
		&conv.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error retrieving community conversation: %w", err)
	}

	return &conv, nil
}

// ListForUser retrieves all conversations a user is a member of
func (r *ConversationRepository) ListForUser(ctx context.Context, username string) ([]*models.Conversation, error) {
	query := squirrel.Select("c.id", "c.kind", "c.community_id", "c.created_by", "c.created_at").
		From("conversations c").
		Join("conversation_members m ON m.conversation_id = c.id").
		Where("m.username = ?", username).
		OrderBy("c.id").
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		var conv models.Conversation
		err := rows.Scan(&conv.ID, &conv.Kind, &conv.CommunityID, &conv.CreatedBy, &conv.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning conversation row: %w", err)
		}
		conversations = append(conversations, &conv)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}

	return conversations, nil
}

// CreateWithMembers inserts a conversation and its initial member rows as one
// logical unit. Either everything is persisted or nothing is.
func (r *ConversationRepository) CreateWithMembers(
	ctx context.Context,
	kind models.ConversationKind,
	communityID *int64,
	createdBy string,
	members []*models.ConversationMember,
) (*models.Conversation, error) {
	var conv models.Conversation

	err := db.WithTransaction(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		insertConv := `
			INSERT INTO conversations (kind, community_id, created_by)
			VALUES ($1, $2, $3)
			RETURNING id, kind, community_id, created_by, created_at
		`

		err := tx.QueryRow(ctx, insertConv, kind, communityID, createdBy).Scan(
			&conv.ID,
			&conv.Kind,
			&conv.CommunityID,
			&conv.CreatedBy,
			&conv.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("error creating conversation: %w", err)
		}

		if len(members) == 0 {
			return nil
		}

		insertMembers := squirrel.Insert("conversation_members").
			Columns("conversation_id", "username", "role").
			PlaceholderFormat(squirrel.Dollar)
		for _, member := range members {
			insertMembers = insertMembers.Values(conv.ID, member.Username, member.Role)
		}

		sql, args, err := insertMembers.ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}

		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("error inserting conversation members: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, member := range members {
		member.ConversationID = conv.ID
		conv.Members = append(conv.Members, member)
	}

	return &conv, nil
}

// GetDirectBetween retrieves the direct conversation whose members are
// exactly the given pair, or nil when none exists yet
func (r *ConversationRepository) GetDirectBetween(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	query := `
		SELECT c.id, c.kind, c.community_id, c.created_by, c.created_at
		FROM conversations c
		JOIN conversation_members ma ON ma.conversation_id = c.id AND ma.username = $1
		JOIN conversation_members mb ON mb.conversation_id = c.id AND mb.username = $2
		WHERE c.kind = $3
		AND (SELECT COUNT(*) FROM conversation_members m WHERE m.conversation_id = c.id) = 2
		LIMIT 1
	`

	var conv models.Conversation
	err := r.db.QueryRow(ctx, query, userA, userB, models.ConversationKindDirect).Scan(
		&conv.ID,
		&conv.Kind,
		&conv.CommunityID,
		&conv.CreatedBy,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error retrieving direct conversation: %w", err)
	}

	return &conv, nil
}
