package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkaya/wavelink/internal/app/models"
)

// PresenceRepository handles database operations for presence records.
// Every mutation is a single upsert keyed by username, never a
// read-modify-write pair, so concurrent connections cannot lose updates.
type PresenceRepository struct {
	db *pgxpool.Pool
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(db *pgxpool.Pool) *PresenceRepository {
	return &PresenceRepository{db: db}
}

// SetOnline upserts the presence row to online and refreshes last_seen
func (r *PresenceRepository) SetOnline(ctx context.Context, username string) error {
	query := `
		INSERT INTO presence (username, is_online, last_seen)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (username)
		DO UPDATE SET is_online = TRUE, last_seen = NOW()
	`

	if _, err := r.db.Exec(ctx, query, username); err != nil {
		return fmt.Errorf("error setting presence online: %w", err)
	}

	return nil
}

// SetOffline upserts the presence row to offline and records last_seen
func (r *PresenceRepository) SetOffline(ctx context.Context, username string) error {
	query := `
		INSERT INTO presence (username, is_online, last_seen)
		VALUES ($1, FALSE, NOW())
		ON CONFLICT (username)
		DO UPDATE SET is_online = FALSE, last_seen = NOW()
	`

	if _, err := r.db.Exec(ctx, query, username); err != nil {
		return fmt.Errorf("error setting presence offline: %w", err)
	}

	return nil
}

// Touch refreshes last_seen without changing the online flag
func (r *PresenceRepository) Touch(ctx context.Context, username string) error {
	query := `
		INSERT INTO presence (username, is_online, last_seen)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (username)
		DO UPDATE SET last_seen = NOW()
	`

	if _, err := r.db.Exec(ctx, query, username); err != nil {
		return fmt.Errorf("error touching presence: %w", err)
	}

	return nil
}

// Get retrieves the presence record for a username
func (r *PresenceRepository) Get(ctx context.Context, username string) (*models.Presence, error) {
	query := `
		SELECT username, is_online, last_seen
		FROM presence
		WHERE username = $1
	`

	var presence models.Presence
	err := r.db.QueryRow(ctx, query, username).Scan(
		&presence.Username,
		&presence.Online,
		&presence.LastSeen,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error retrieving presence: %w", err)
	}

	return &presence, nil
}
