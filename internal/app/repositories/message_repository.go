package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkaya/wavelink/internal/app/models"
)

// MessageRepository handles database operations for messages
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a new message. The id and creation timestamp are assigned by
// the store; they define the delivery order for the conversation.
func (r *MessageRepository) Create(ctx context.Context, message *models.Message) (int64, error) {
	query := `
		INSERT INTO messages (
			conversation_id, sender, message_type, content, attachment_url, reply_to
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	var id int64
	var createdAt time.Time
	err := r.db.QueryRow(ctx, query,
		message.ConversationID,
		message.Sender,
		message.MessageType,
		message.Content,
		message.AttachmentURL,
		message.ReplyTo,
	).Scan(&id, &createdAt)

	if err != nil {
		return 0, fmt.Errorf("error creating message: %w", err)
	}

	message.ID = id
	message.CreatedAt = createdAt

	return id, nil
}

// GetByID retrieves a message by its ID
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `
		SELECT id, conversation_id, sender, message_type, content, attachment_url, reply_to, created_at
		FROM messages
		WHERE id = $1
	`

	var message models.Message
	err := r.db.QueryRow(ctx, query, id).Scan(
		&message.ID,
		&message.ConversationID,
		&message.Sender,
		&message.MessageType,
		&message.Content,
		&message.AttachmentURL,
		&message.ReplyTo,
		&message.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error retrieving message: %w", err)
	}

	return &message, nil
}

// ListByConversation retrieves messages for a conversation with filters.
// Results are ordered by id so pagination follows persistence order.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	before *int64,
	after *int64,
	limit int,
) ([]*models.Message, error) {
	queryBuilder := squirrel.Select(
		"id", "conversation_id", "sender", "message_type",
		"content", "attachment_url", "reply_to", "created_at",
	).
		From("messages").
		Where("conversation_id = ?", conversationID).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar)

	if before != nil {
		queryBuilder = queryBuilder.Where("id < ?", *before)
	}

	if after != nil {
		queryBuilder = queryBuilder.Where("id > ?", *after)
	}

	sql, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var message models.Message
		err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.Sender,
			&message.MessageType,
			&message.Content,
			&message.AttachmentURL,
			&message.ReplyTo,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning message row: %w", err)
		}
		messages = append(messages, &message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

// IDs retrieves all message ids in a conversation, optionally bounded from
// above by upTo (inclusive)
func (r *MessageRepository) IDs(ctx context.Context, conversationID int64, upTo *int64) ([]int64, error) {
	queryBuilder := squirrel.Select("id").
		From("messages").
		Where("conversation_id = ?", conversationID).
		OrderBy("id").
		PlaceholderFormat(squirrel.Dollar)

	if upTo != nil {
		queryBuilder = queryBuilder.Where("id <= ?", *upTo)
	}

	sql, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning message id: %w", err)
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message ids: %w", err)
	}

	return ids, nil
}

// Delete hard-deletes a message; read rows cascade with it
func (r *MessageRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting message: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("no message found with ID %d", id)
	}

	return nil
}
