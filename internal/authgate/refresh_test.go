package authgate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fakeProvider struct {
	mutex        sync.Mutex
	refreshCalls int
	accessToken  string
	refreshToken string
	idToken      string
	refreshErr   error
	exchangeErr  error
	resolveErr   error
}

func (provider *fakeProvider) AuthCodeURL(state string, forceConsent bool) string {
	if forceConsent {
		return "https://provider.example.com/authorize?approval_prompt=force"
	}
	return "https://provider.example.com/authorize?state=" + state
}

func (provider *fakeProvider) Exchange(ctx context.Context, code string) (ProviderGrant, error) {
	if provider.exchangeErr != nil {
		return ProviderGrant{}, provider.exchangeErr
	}
	return ProviderGrant{AccessToken: provider.accessToken, RefreshToken: provider.refreshToken, IDToken: provider.idToken}, nil
}

func (provider *fakeProvider) ResolveAccount(ctx context.Context, grant ProviderGrant) (int64, error) {
	if provider.resolveErr != nil {
		return 0, provider.resolveErr
	}
	return 7, nil
}

func (provider *fakeProvider) RequestNewAccessToken(ctx context.Context, refreshToken string) (string, string, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.refreshCalls++
	if provider.refreshErr != nil {
		return "", "", provider.refreshErr
	}
	return provider.accessToken, provider.refreshToken, nil
}

func (provider *fakeProvider) calls() int {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return provider.refreshCalls
}

func seedUser(t *testing.T, users UserStore) *User {
	t.Helper()
	user, _, err := users.FindOrCreate(context.Background(), User{ID: 7, AccessToken: "access-old", RefreshToken: "refresh-old"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestEnsureFreshUnchangedPairSkipsWrite(t *testing.T) {
	t.Parallel()

	users := newCountingUserStore()
	user := seedUser(t, users)
	provider := &fakeProvider{accessToken: "access-old", refreshToken: "refresh-old"}
	refresher := NewTokenRefresher(provider, users, zaptest.NewLogger(t), nil)

	outcome, err := refresher.EnsureFresh(context.Background(), user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != RefreshUnchanged {
		t.Fatalf("expected unchanged outcome, got %v", outcome.Status)
	}
	if outcome.User.AccessToken != "access-old" {
		t.Fatalf("expected original access token, got %q", outcome.User.AccessToken)
	}
	if users.updates() != 0 {
		t.Fatalf("expected no store write for unchanged pair, got %d", users.updates())
	}
	if provider.calls() != 1 {
		t.Fatalf("expected exactly one provider call, got %d", provider.calls())
	}
}

func TestEnsureFreshChangedPairPersistsAndReturnsCommitted(t *testing.T) {
	t.Parallel()

	users := newCountingUserStore()
	user := seedUser(t, users)
	provider := &fakeProvider{accessToken: "access-new", refreshToken: "refresh-new"}
	refresher := NewTokenRefresher(provider, users, zaptest.NewLogger(t), nil)

	outcome, err := refresher.EnsureFresh(context.Background(), user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != RefreshUpdated {
		t.Fatalf("expected updated outcome, got %v", outcome.Status)
	}
	if users.updates() != 1 {
		t.Fatalf("expected exactly one store write, got %d", users.updates())
	}

	persisted, findErr := users.Find(context.Background(), 7)
	if findErr != nil {
		t.Fatalf("find error: %v", findErr)
	}
	if outcome.User.AccessToken != persisted.AccessToken || outcome.User.RefreshToken != persisted.RefreshToken {
		t.Fatalf("returned pair diverges from persisted pair")
	}
	if persisted.AccessToken != "access-new" || persisted.RefreshToken != "refresh-new" {
		t.Fatalf("unexpected persisted pair: %q %q", persisted.AccessToken, persisted.RefreshToken)
	}
}

func TestEnsureFreshPropagatesProviderStatus(t *testing.T) {
	t.Parallel()

	users := newCountingUserStore()
	user := seedUser(t, users)
	provider := &fakeProvider{refreshErr: errors.New("revoked by user")}
	refresher := NewTokenRefresher(provider, users, zaptest.NewLogger(t), nil)

	_, err := refresher.EnsureFresh(context.Background(), user)
	if err == nil {
		t.Fatalf("expected refresh error")
	}
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("expected *RefreshError, got %T", err)
	}
	if refreshErr.StatusCode == 0 {
		t.Fatalf("expected provider status code on refresh error")
	}
	if users.updates() != 0 {
		t.Fatalf("expected no store write on provider failure")
	}
}

func TestEnsureFreshCoalescesConcurrentRefreshes(t *testing.T) {
	t.Parallel()

	users := newCountingUserStore()
	user := seedUser(t, users)
	provider := &fakeProvider{accessToken: "access-new", refreshToken: "refresh-new"}
	refresher := NewTokenRefresher(provider, users, zaptest.NewLogger(t), nil)

	const concurrency = 8
	var waitGroup sync.WaitGroup
	outcomes := make([]RefreshOutcome, concurrency)
	errs := make([]error, concurrency)
	for index := 0; index < concurrency; index++ {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			stale := *user
			outcomes[slot], errs[slot] = refresher.EnsureFresh(context.Background(), &stale)
		}(index)
	}
	waitGroup.Wait()

	for index := 0; index < concurrency; index++ {
		if errs[index] != nil {
			t.Fatalf("refresh %d failed: %v", index, errs[index])
		}
		if outcomes[index].Status != RefreshUpdated {
			t.Fatalf("refresh %d: expected updated outcome", index)
		}
		if outcomes[index].User.AccessToken != "access-new" {
			t.Fatalf("refresh %d: expected committed pair", index)
		}
	}
	if provider.calls() != 1 {
		t.Fatalf("expected single provider call across concurrent refreshes, got %d", provider.calls())
	}
	if users.updates() != 1 {
		t.Fatalf("expected single store write across concurrent refreshes, got %d", users.updates())
	}
}

func TestRefreshTokensMiddlewareSurfacesProviderStatus(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	users := newCountingUserStore()
	user := seedUser(t, users)
	provider := &fakeProvider{refreshErr: errors.New("provider offline")}
	refresher := NewTokenRefresher(provider, users, zaptest.NewLogger(t), nil)

	router := gin.New()
	router.POST("/upload", func(contextGin *gin.Context) {
		contextGin.Set(UserContextKey, user)
	}, refresher.RefreshTokens(), func(contextGin *gin.Context) {
		contextGin.Status(http.StatusOK)
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/upload", nil))

	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected provider status 502, got %d", recorder.Code)
	}
}

func TestRefreshTokensMiddlewareReplacesContextUser(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	users := newCountingUserStore()
	user := seedUser(t, users)
	provider := &fakeProvider{accessToken: "access-new", refreshToken: "refresh-new"}
	refresher := NewTokenRefresher(provider, users, zaptest.NewLogger(t), nil)

	var observed *User
	router := gin.New()
	router.POST("/upload", func(contextGin *gin.Context) {
		contextGin.Set(UserContextKey, user)
	}, refresher.RefreshTokens(), func(contextGin *gin.Context) {
		observed, _ = UserFromContext(contextGin)
		contextGin.Status(http.StatusOK)
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/upload", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if observed == nil || observed.AccessToken != "access-new" {
		t.Fatalf("expected refreshed user in context, got %+v", observed)
	}

	remaining := httptest.NewRecorder()
	router.ServeHTTP(remaining, httptest.NewRequest(http.MethodPost, "/upload", nil))
	if remaining.Code != http.StatusOK {
		t.Fatalf("expected 200 on follow-up request, got %d", remaining.Code)
	}
	// Second request observes the committed pair without another write.
	if users.updates() != 1 {
		t.Fatalf("expected single write across requests, got %d", users.updates())
	}
}
