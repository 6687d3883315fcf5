package authgate

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RefreshStatus tags the outcome of a token refresh.
type RefreshStatus int

const (
	// RefreshUnchanged means the stored pair is still current; nothing was written.
	RefreshUnchanged RefreshStatus = iota
	// RefreshUpdated means a new pair was persisted and re-read.
	RefreshUpdated
)

// RefreshOutcome is the tagged result of EnsureFresh. Exactly one branch of
// the refresh produces it; there is no fallthrough between branches.
type RefreshOutcome struct {
	Status RefreshStatus
	User   *User
}

// TokenRefresher keeps a session-authenticated user's OAuth token pair
// current before downstream operations that call the provider.
type TokenRefresher struct {
	provider ProviderClient
	users    UserStore
	logger   *zap.Logger
	metrics  MetricsRecorder
	locks    keyedLock
}

// NewTokenRefresher wires the refresher with its collaborators.
func NewTokenRefresher(provider ProviderClient, users UserStore, logger *zap.Logger, metrics MetricsRecorder) *TokenRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &TokenRefresher{
		provider: provider,
		users:    users,
		logger:   logger,
		metrics:  metrics,
	}
}

// EnsureFresh asks the provider for a fresh access token and conditionally
// persists a change. At most one refresh per user id is in flight; callers
// that waited observe the committed result without a duplicate provider call.
func (refresher *TokenRefresher) EnsureFresh(ctx context.Context, user *User) (RefreshOutcome, error) {
	refresher.locks.acquire(user.ID)
	defer refresher.locks.release(user.ID)

	stored, findErr := refresher.users.Find(ctx, user.ID)
	if findErr != nil {
		refresher.metrics.Increment("refresh.failed")
		return RefreshOutcome{}, &RefreshError{StatusCode: http.StatusForbidden, Err: findErr}
	}
	if stored.AccessToken != user.AccessToken || stored.RefreshToken != user.RefreshToken {
		// A concurrent request already refreshed while we waited on the lock.
		refresher.metrics.Increment("refresh.coalesced")
		return RefreshOutcome{Status: RefreshUpdated, User: stored}, nil
	}

	refresher.logger.Debug("refreshing provider tokens", zap.Int64("user_id", user.ID))
	accessToken, refreshToken, providerErr := refresher.provider.RequestNewAccessToken(ctx, stored.RefreshToken)
	if providerErr != nil {
		refresher.logger.Error("provider refresh failed",
			zap.String("code", "refresh.provider_failure"),
			zap.Int64("user_id", user.ID),
			zap.Error(providerErr))
		refresher.metrics.Increment("refresh.failed")
		return RefreshOutcome{}, &RefreshError{StatusCode: ProviderStatusCode(providerErr), Err: providerErr}
	}

	if stored.AccessToken == accessToken && stored.RefreshToken == refreshToken {
		refresher.metrics.Increment("refresh.unchanged")
		return RefreshOutcome{Status: RefreshUnchanged, User: stored}, nil
	}

	if updateErr := refresher.users.UpdateTokens(ctx, user.ID, accessToken, refreshToken); updateErr != nil {
		refresher.metrics.Increment("refresh.failed")
		return RefreshOutcome{}, &RefreshError{StatusCode: http.StatusInternalServerError, Err: updateErr}
	}
	// Re-read so the caller observes exactly what was committed.
	persisted, rereadErr := refresher.users.Find(ctx, user.ID)
	if rereadErr != nil {
		refresher.metrics.Increment("refresh.failed")
		return RefreshOutcome{}, &RefreshError{StatusCode: http.StatusInternalServerError, Err: rereadErr}
	}
	refresher.logger.Debug("provider tokens updated", zap.Int64("user_id", user.ID))
	refresher.metrics.Increment("refresh.updated")
	return RefreshOutcome{Status: RefreshUpdated, User: persisted}, nil
}

// RefreshTokens is middleware for routes that call the provider on the
// user's behalf. It replaces the context user with the refreshed row and
// surfaces the provider's status on failure.
func (refresher *TokenRefresher) RefreshTokens() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		user, found := UserFromContext(contextGin)
		if !found {
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		outcome, refreshErr := refresher.EnsureFresh(contextGin.Request.Context(), user)
		if refreshErr != nil {
			status := http.StatusBadGateway
			var providerErr *RefreshError
			if errors.As(refreshErr, &providerErr) {
				status = providerErr.StatusCode
			}
			contextGin.AbortWithStatusJSON(status, gin.H{"error": "refresh_failed"})
			return
		}
		contextGin.Set(UserContextKey, outcome.User)
		contextGin.Next()
	}
}

// keyedLock serializes refreshes per user id.
type keyedLock struct {
	mutex   sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mutex   sync.Mutex
	waiters int
}

func (lock *keyedLock) acquire(userID int64) {
	lock.mutex.Lock()
	if lock.entries == nil {
		lock.entries = make(map[int64]*lockEntry)
	}
	entry, ok := lock.entries[userID]
	if !ok {
		entry = &lockEntry{}
		lock.entries[userID] = entry
	}
	entry.waiters++
	lock.mutex.Unlock()

	entry.mutex.Lock()
}

func (lock *keyedLock) release(userID int64) {
	lock.mutex.Lock()
	entry := lock.entries[userID]
	entry.waiters--
	if entry.waiters == 0 {
		delete(lock.entries, userID)
	}
	lock.mutex.Unlock()

	entry.mutex.Unlock()
}
