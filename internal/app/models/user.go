package models

import "time"

// User defines the subset of the 'users' table this engine correlates on.
// Username is the stable unique identity key across conversations, messages,
// reads and presence; it is not the authentication subject id.
type User struct {
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// CommunityMember represents an approved member of a community as mirrored
// by the external community system. Membership changes here are synced into
// conversation membership, they are not foreign-key enforced.
type CommunityMember struct {
	CommunityID int64     `json:"communityId" db:"community_id"`
	Username    string    `json:"username" db:"username"`
	Status      string    `json:"status" db:"status"`
	JoinedAt    time.Time `json:"joinedAt" db:"joined_at"`
}

// CommunityMemberApproved is the status value this engine fans out to.
const CommunityMemberApproved = "APPROVED"
