package repositories

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories holds all the repository instances
type Repositories struct {
	UserRepository            *UserRepository
	ConversationRepository    *ConversationRepository
	MemberRepository          *MemberRepository
	MessageRepository         *MessageRepository
	ReadRepository            *ReadRepository
	PresenceRepository        *PresenceRepository
	CommunityMemberRepository *CommunityMemberRepository
}

// NewRepositories initializes all repositories
func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		UserRepository:            NewUserRepository(db),
		ConversationRepository:    NewConversationRepository(db),
		MemberRepository:          NewMemberRepository(db),
		MessageRepository:         NewMessageRepository(db),
		ReadRepository:            NewReadRepository(db),
		PresenceRepository:        NewPresenceRepository(db),
		CommunityMemberRepository: NewCommunityMemberRepository(db),
	}
}
