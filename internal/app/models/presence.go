package models

import "time"

// Presence represents the online/offline state of a user identity.
// Concurrent connections for the same user race harmlessly on this row
// since every write is a single upsert converging to the same value.
type Presence struct {
	Username string    `json:"username" db:"username"`
	Online   bool      `json:"online" db:"is_online"`
	LastSeen time.Time `json:"lastSeen" db:"last_seen"`
}
