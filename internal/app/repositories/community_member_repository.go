package repositories

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkaya/wavelink/internal/app/models"
)

// CommunityMemberRepository reads the community membership table maintained
// by the external community system. This engine only consumes it to mirror
// approved members into conversation membership.
type CommunityMemberRepository struct {
	db *pgxpool.Pool
}

// NewCommunityMemberRepository creates a new CommunityMemberRepository
func NewCommunityMemberRepository(db *pgxpool.Pool) *CommunityMemberRepository {
	return &CommunityMemberRepository{db: db}
}

// ApprovedMembers retrieves the usernames of all currently-approved members
// of a community
func (r *CommunityMemberRepository) ApprovedMembers(ctx context.Context, communityID int64) ([]string, error) {
	query := squirrel.Select("username").
		From("community_members").
		Where("community_id = ?", communityID).
		Where("status = ?", models.CommunityMemberApproved).
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
			return nil, fmt.Errorf("error scanning community member row: %w", err)
		}
		usernames = append(usernames, username)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating community member rows: %w", err)
	}

	return usernames, nil
}
