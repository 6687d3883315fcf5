package authgate

import (
	"context"
	"fmt"
	"sync"
)

// MemoryUserStore is an in-memory store intended for tests and dev.
type MemoryUserStore struct {
	mutex sync.Mutex
	byID  map[int64]User
}

// NewMemoryUserStore creates a new in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byID: make(map[int64]User)}
}

// Find returns a copy of the stored user row.
func (store *MemoryUserStore) Find(ctx context.Context, userID int64) (*User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byID[userID]
	if !ok {
		return nil, fmt.Errorf("memory_store.find: %w", ErrUserNotFound)
	}
	return &record, nil
}

// FindOrCreate returns the existing row or inserts the provided defaults.
func (store *MemoryUserStore) FindOrCreate(ctx context.Context, user User) (*User, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if record, ok := store.byID[user.ID]; ok {
		return &record, false, nil
	}
	store.byID[user.ID] = user
	return &user, true, nil
}

// UpdateTokens replaces the stored token pair for a user.
func (store *MemoryUserStore) UpdateTokens(ctx context.Context, userID int64, accessToken string, refreshToken string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byID[userID]
	if !ok {
		return fmt.Errorf("memory_store.update: %w", ErrUserNotFound)
	}
	record.AccessToken = accessToken
	record.RefreshToken = refreshToken
	store.byID[userID] = record
	return nil
}
