package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dkaya/wavelink/internal/app/models"
	"github.com/dkaya/wavelink/internal/app/models/dto"
	"github.com/dkaya/wavelink/internal/pkg/apperrors"
)

// presenceStore abstracts persisted presence rows
type presenceStore interface {
	Get(ctx context.Context, username string) (*models.Presence, error)
}

// liveRegistry reports connections currently held by this process. The
// store lags behind it by at most one transition, so live state wins.
type liveRegistry interface {
	IsOnline(username string) bool
}

// PresenceService defines the interface for presence queries
type PresenceService interface {
	GetPresence(ctx context.Context, username string) (*dto.PresenceResponse, error)
}

// presenceServiceImpl implements PresenceService
type presenceServiceImpl struct {
	presence presenceStore
	users    userStore
	live     liveRegistry
	logger   zerolog.Logger
}

// NewPresenceService creates a new PresenceService
func NewPresenceService(
	presence presenceStore,
	users userStore,
	live liveRegistry,
	logger zerolog.Logger,
) PresenceService {
	return &presenceServiceImpl{
		presence: presence,
		users:    users,
		live:     live,
		logger:   logger,
	}
}

// GetPresence retrieves a user's presence, overlaying the persisted row
// with the in-process connection registry
func (s *presenceServiceImpl) GetPresence(ctx context.Context, username string) (*dto.PresenceResponse, error) {
	exists, err := s.users.Exists(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("error checking user: %w", err)
	}
	if !exists {
		return nil, apperrors.NewResourceNotFoundError("User not found")
	}

	response := &dto.PresenceResponse{Username: username}

	row, err := s.presence.Get(ctx, username)
	if err != nil {
		s.logger.Error().Err(err).
			Str("username", username).
			Msg("Failed to retrieve presence row")
		return nil, fmt.Errorf("error retrieving presence: %w", err)
	}

	if row != nil {
		response.Online = row.Online
		response.LastSeen = row.LastSeen
	}

	if s.live != nil && s.live.IsOnline(username) {
		response.Online = true
	}

	return response, nil
}
