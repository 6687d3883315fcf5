package authgate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

type sessionRecord struct {
	userID  int64
	expires time.Time
}

type memorySessionStore struct {
	mutex     sync.Mutex
	entries   map[string]sessionRecord
	ttl       time.Duration
	now       func() time.Time
	tokenSize int
}

// NewMemorySessionStore constructs an in-memory SessionStore with the provided TTL.
func NewMemorySessionStore(ttl time.Duration) SessionStore {
	return &memorySessionStore{
		entries:   make(map[string]sessionRecord),
		ttl:       ttl,
		now:       time.Now,
		tokenSize: 32,
	}
}

func (store *memorySessionStore) Establish(ctx context.Context, userID int64) (string, error) {
	token, err := store.randomToken()
	if err != nil {
		return "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[token] = sessionRecord{
		userID:  userID,
		expires: store.now().Add(store.ttl),
	}
	return token, nil
}

func (store *memorySessionStore) Resolve(ctx context.Context, sessionToken string) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.entries[sessionToken]
	if !ok {
		store.purgeExpiredLocked()
		return 0, ErrSessionNotFound
	}
	if store.now().After(record.expires) {
		delete(store.entries, sessionToken)
		store.purgeExpiredLocked()
		return 0, ErrSessionExpired
	}
	return record.userID, nil
}

func (store *memorySessionStore) Destroy(ctx context.Context, sessionToken string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, ok := store.entries[sessionToken]; !ok {
		return ErrSessionNotFound
	}
	delete(store.entries, sessionToken)
	return nil
}

func (store *memorySessionStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for token, record := range store.entries {
		if now.After(record.expires) {
			delete(store.entries, token)
		}
	}
}

func (store *memorySessionStore) randomToken() (string, error) {
	buffer := make([]byte, store.tokenSize)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
