package models

import "time"

// ConversationKind represents the kind of conversation
type ConversationKind string

const (
	ConversationKindDirect    ConversationKind = "DIRECT"
	ConversationKindGroup     ConversationKind = "GROUP"
	ConversationKindCommunity ConversationKind = "COMMUNITY"
)

// MemberRole represents the role of a conversation member
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "OWNER"
	MemberRoleMember MemberRole = "MEMBER"
)

// Conversation represents a durable thread of messages with a fixed member set.
// For KindDirect exactly one conversation exists per unordered pair of members;
// for KindCommunity exactly one conversation is bound to CommunityID.
type Conversation struct {
	ID          int64            `json:"id" db:"id"`
	Kind        ConversationKind `json:"kind" db:"kind"`
	CommunityID *int64           `json:"communityId,omitempty" db:"community_id"`
	CreatedBy   string           `json:"createdBy" db:"created_by"`
	CreatedAt   time.Time        `json:"createdAt" db:"created_at"`

	// Related entities
	Members []*ConversationMember `json:"members,omitempty"`
}

// ConversationMember represents a user's membership in a conversation
type ConversationMember struct {
	ConversationID int64      `json:"conversationId" db:"conversation_id"`
	Username       string     `json:"username" db:"username"`
	Role           MemberRole `json:"role" db:"role"`
	JoinedAt       time.Time  `json:"joinedAt" db:"joined_at"`
}
