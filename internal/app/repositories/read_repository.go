package repositories

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReadRepository handles database operations for per-message read records
type ReadRepository struct {
	db *pgxpool.Pool
}

// NewReadRepository creates a new ReadRepository
func NewReadRepository(db *pgxpool.Pool) *ReadRepository {
	return &ReadRepository{db: db}
}

// MarkRead upserts a read row for each message id. Duplicate acknowledgments
// are no-ops, so repeated and out-of-order marking is safe.
func (r *ReadRepository) MarkRead(ctx context.Context, messageIDs []int64, username string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	insert := squirrel.Insert("message_reads").
		Columns("message_id", "username").
		Suffix("ON CONFLICT (message_id, username) DO NOTHING").
		PlaceholderFormat(squirrel.Dollar)
	for _, id := range messageIDs {
		insert = insert.Values(id, username)
	}

	sql, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}

	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error upserting read records: %w", err)
	}

	return nil
}

// ReadMessageIDs retrieves, from the given snapshot of message ids, the ones
// the user has acknowledged. Restricting the query to the snapshot keeps the
// fallback unread computation consistent under concurrent message inserts.
func (r *ReadRepository) ReadMessageIDs(ctx context.Context, username string, messageIDs []int64) ([]int64, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	query := squirrel.Select("message_id").
		From("message_reads").
		Where(squirrel.Eq{"message_id": messageIDs}).
		Where("username = ?", username).
		OrderBy("message_id").
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
			return nil, fmt.Errorf("error scanning read message id: %w", err)
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating read message ids: %w", err)
	}

	return ids, nil
}

// UnreadCount computes the unread count for one conversation and user with a
// single anti-join, the aggregate path of unread accounting.
func (r *ReadRepository) UnreadCount(ctx context.Context, conversationID int64, username string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		LEFT JOIN message_reads mr ON mr.message_id = m.id AND mr.username = $2
		WHERE m.conversation_id = $1 AND mr.message_id IS NULL
	`

	var count int
	err := r.db.QueryRow(ctx, query, conversationID, username).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting unread messages: %w", err)
	}

	return count, nil
}

// UnreadCounts computes unread counts for every conversation the user is a
// member of, in one grouped query for the reconciliation surface.
func (r *ReadRepository) UnreadCounts(ctx context.Context, username string) (map[int64]int, error) {
	query := `
		SELECT m.conversation_id, COUNT(*)
		FROM messages m
		JOIN conversation_members cm
			ON cm.conversation_id = m.conversation_id AND cm.username = $1
		LEFT JOIN message_reads mr ON mr.message_id = m.id AND mr.username = $1
		WHERE mr.message_id IS NULL
		GROUP BY m.conversation_id
	`

	rows, err := r.db.Query(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var conversationID int64
		var count int
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, fmt.Errorf("error scanning unread count row: %w", err)
		}
		counts[conversationID] = count
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unread count rows: %w", err)
	}

	return counts, nil
}
