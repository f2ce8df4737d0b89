package entity

import "time"

// Delegation is the versioned record of one source actor's delegation.
// There is exactly one record per FromActorID; superseding rewrites it.
type Delegation struct {
	FromActorID string    `json:"from_actor_id"`
	ToActorID   string    `json:"to_actor_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	Active      bool      `json:"active"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsActiveAt returns true if the delegation is active and has not expired at now
func (d *Delegation) IsActiveAt(now time.Time) bool {
	return d != nil && d.Active && now.Before(d.ExpiresAt)
}
