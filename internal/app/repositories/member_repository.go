package repositories

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkaya/wavelink/internal/app/models"
)

// MemberRepository handles database operations for conversation membership
type MemberRepository struct {
	db *pgxpool.Pool
}

// NewMemberRepository creates a new MemberRepository
func NewMemberRepository(db *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{db: db}
}

// IsMember reports whether a username is a current member of a conversation
func (r *MemberRepository) IsMember(ctx context.Context, conversationID int64, username string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND username = $2
		)
	`
	err := r.db.QueryRow(ctx, query, conversationID, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking membership: %w", err)
	}
	return exists, nil
}

// Members retrieves the usernames of all members of a conversation
func (r *MemberRepository) Members(ctx context.Context, conversationID int64) ([]string, error) {
	query := squirrel.Select("username").
		From("conversation_members").
		Where("conversation_id = ?", conversationID).
		OrderBy("username").
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

	var usernames []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("error scanning member row: %w", err)
		}
		usernames = append(usernames, username)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return usernames, nil
}

// ConversationIDs retrieves the ids of every conversation a username belongs to
func (r *MemberRepository) ConversationIDs(ctx context.Context, username string) ([]int64, error) {
	query := squirrel.Select("conversation_id").
		From("conversation_members").
		Where("username = ?", username).
		OrderBy("conversation_id").
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

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation ids: %w", err)
	}

	return ids, nil
}

// Add upserts a membership row. Re-adding an existing member is a no-op, so
// concurrent mirror triggers never produce duplicates or lost updates.
func (r *MemberRepository) Add(ctx context.Context, conversationID int64, username string, role models.MemberRole) error {
	query := `
		INSERT INTO conversation_members (conversation_id, username, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, username) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, conversationID, username, role)
	if err != nil {
		return fmt.Errorf("error adding conversation member: %w", err)
	}

	return nil
}

// Remove deletes a membership row
func (r *MemberRepository) Remove(ctx context.Context, conversationID int64, username string) error {
	query := `
		DELETE FROM conversation_members
		WHERE conversation_id = $1 AND username = $2
	`

	_, err := r.db.Exec(ctx, query, conversationID, username)
	if err != nil {
		return fmt.Errorf("error removing conversation member: %w", err)
	}

	return nil
}
