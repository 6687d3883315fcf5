package authgate

import "context"

// User is the persistent account row the gate and refresher operate on.
type User struct {
	ID           int64
	AccessToken  string
	RefreshToken string
}

// UserStore persists and retrieves application users and their token pairs.
type UserStore interface {
	Find(ctx context.Context, userID int64) (*User, error)
	FindOrCreate(ctx context.Context, user User) (*User, bool, error)
	UpdateTokens(ctx context.Context, userID int64, accessToken string, refreshToken string) error
}

// SessionStore manages server-side interactive sessions.
type SessionStore interface {
	Establish(ctx context.Context, userID int64) (string, error)
	Resolve(ctx context.Context, sessionToken string) (int64, error)
	Destroy(ctx context.Context, sessionToken string) error
}
