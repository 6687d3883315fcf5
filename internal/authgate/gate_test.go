package authgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

// countingUserStore wraps MemoryUserStore to observe writes.
type countingUserStore struct {
	*MemoryUserStore
	mutex       sync.Mutex
	findCalls   int
	updateCalls int
}

func newCountingUserStore() *countingUserStore {
	return &countingUserStore{MemoryUserStore: NewMemoryUserStore()}
}

func (store *countingUserStore) Find(ctx context.Context, userID int64) (*User, error) {
	store.mutex.Lock()
	store.findCalls++
	store.mutex.Unlock()
	return store.MemoryUserStore.Find(ctx, userID)
}

func (store *countingUserStore) UpdateTokens(ctx context.Context, userID int64, accessToken string, refreshToken string) error {
	store.mutex.Lock()
	store.updateCalls++
	store.mutex.Unlock()
	return store.MemoryUserStore.UpdateTokens(ctx, userID, accessToken, refreshToken)
}

func (store *countingUserStore) updates() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.updateCalls
}

func newTestServiceConfig() ServiceConfig {
	return ServiceConfig{
		ProviderName:      "provider",
		Scope:             "write",
		LoginRoute:        "/auth/login",
		SigningSecret:     []byte("signing-secret"),
		SessionCookieName: "gate_session",
		SessionTTL:        time.Hour,
		AllowInsecureHTTP: true,
	}
}

func newGateRouter(t *testing.T, users UserStore, sessions SessionStore) (*gin.Engine, *AuthGate, *CounterMetrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config := newTestServiceConfig()
	metrics := NewCounterMetrics()
	gate := NewAuthGate(NewClaimsCodec(config.SigningSecret), users, sessions, config, zaptest.NewLogger(t), metrics)

	router := gin.New()
	protected := router.Group("/api")
	protected.Use(gate.RequireAuthorized())
	protected.POST("/op", func(contextGin *gin.Context) {
		user, found := UserFromContext(contextGin)
		if !found {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"id": user.ID})
	})
	return router, gate, metrics
}

func TestGateRedirectsWithoutSessionOrCredential(t *testing.T) {
	t.Parallel()

	router, _, _ := newGateRouter(t, newCountingUserStore(), NewMemorySessionStore(time.Hour))

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/op", nil)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "/auth/login" {
		t.Fatalf("expected redirect to login route, got %q", location)
	}
}

func TestGateRejectsGarbageCredential(t *testing.T) {
	t.Parallel()

	users := newCountingUserStore()
	router, _, metrics := newGateRouter(t, users, NewMemorySessionStore(time.Hour))

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/op", nil)
	request.Header.Set("Authorization", "Bearer 0000")
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if users.updates() != 0 {
		t.Fatalf("expected no store writes for invalid credential")
	}
	if metrics.Count("gate.credential.invalid") != 1 {
		t.Fatalf("expected invalid credential counter to increment")
	}
}

func TestGateRejectsCredentialForMissingUser(t *testing.T) {
	t.Parallel()

	users := newCountingUserStore()
	router, _, _ := newGateRouter(t, users, NewMemorySessionStore(time.Hour))

	credential, issueErr := NewClaimsCodec([]byte("signing-secret")).Issue(99)
	if issueErr != nil {
		t.Fatalf("issue error: %v", issueErr)
	}

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/op", nil)
	request.Header.Set("Authorization", "Bearer "+credential)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing user, got %d", recorder.Code)
	}
}

func TestGateAcceptsValidCredential(t *testing.T) {
	t.Parallel()

	users := newCountingUserStore()
	if _, _, err := users.FindOrCreate(context.Background(), User{ID: 7, AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	router, _, _ := newGateRouter(t, users, NewMemorySessionStore(time.Hour))

	credential, issueErr := NewClaimsCodec([]byte("signing-secret")).Issue(7)
	if issueErr != nil {
		t.Fatalf("issue error: %v", issueErr)
	}

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/op", nil)
	request.Header.Set("Authorization", "Bearer "+credential)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestGateAcceptsSession(t *testing.T) {
	t.Parallel()

	users := newCountingUserStore()
	if _, _, err := users.FindOrCreate(context.Background(), User{ID: 7, AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	sessions := NewMemorySessionStore(time.Hour)
	sessionToken, establishErr := sessions.Establish(context.Background(), 7)
	if establishErr != nil {
		t.Fatalf("establish error: %v", establishErr)
	}

	router, _, _ := newGateRouter(t, users, sessions)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/op", nil)
	request.AddCookie(&http.Cookie{Name: "gate_session", Value: sessionToken})
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for live session, got %d", recorder.Code)
	}
}

func TestGateRedirectsExpiredSession(t *testing.T) {
	t.Parallel()

	users := newCountingUserStore()
	if _, _, err := users.FindOrCreate(context.Background(), User{ID: 7}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	sessions := NewMemorySessionStore(-time.Minute)
	sessionToken, establishErr := sessions.Establish(context.Background(), 7)
	if establishErr != nil {
		t.Fatalf("establish error: %v", establishErr)
	}

	router, _, _ := newGateRouter(t, users, sessions)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/op", nil)
	request.AddCookie(&http.Cookie{Name: "gate_session", Value: sessionToken})
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusFound {
		t.Fatalf("expected redirect for expired session, got %d", recorder.Code)
	}
}

func TestBearerCredentialParsing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header   string
		expected string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, testCase := range cases {
		if got := bearerCredential(testCase.header); got != testCase.expected {
			t.Fatalf("header %q: expected %q, got %q", testCase.header, testCase.expected, got)
		}
	}
}
