package domain

import "time"

// AccessToken authorizes API callers. TokenHash is the sha256 of the plain secret.
type AccessToken struct {
	ID        int64
	TokenHash string
	UserID    int64
	Abilities string
	ExpiresAt *time.Time
}

func (t AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}
