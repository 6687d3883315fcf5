package authgate

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserContextKey is the gin context key carrying the resolved *User.
const UserContextKey = "auth_user"

// authPath selects exactly one verification strategy per request.
type authPath int

const (
	sessionPath authPath = iota
	credentialPath
)

// AuthGate decides per request whether the caller is an interactive session
// or a bearer-credential client and validates accordingly.
type AuthGate struct {
	codec    *ClaimsCodec
	users    UserStore
	sessions SessionStore
	config   ServiceConfig
	logger   *zap.Logger
	metrics  MetricsRecorder
}

// NewAuthGate wires the gate with its collaborators.
func NewAuthGate(codec *ClaimsCodec, users UserStore, sessions SessionStore, configuration ServiceConfig, logger *zap.Logger, metrics MetricsRecorder) *AuthGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &AuthGate{
		codec:    codec,
		users:    users,
		sessions: sessions,
		config:   configuration,
		logger:   logger,
		metrics:  metrics,
	}
}

// RequireAuthorized runs exactly one verification path per request.
// An Authorization header selects the credential path unconditionally; its
// absence selects the session path. There is no fallback between the two.
func (gate *AuthGate) RequireAuthorized() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		switch gate.selectPath(contextGin.Request) {
		case credentialPath:
			gate.verifyCredential(contextGin)
		case sessionPath:
			gate.verifySession(contextGin)
		}
	}
}

func (gate *AuthGate) selectPath(request *http.Request) authPath {
	if request.Header.Get("Authorization") != "" {
		return credentialPath
	}
	return sessionPath
}

func (gate *AuthGate) verifyCredential(contextGin *gin.Context) {
	credential := bearerCredential(contextGin.Request.Header.Get("Authorization"))
	claims, verifyErr := gate.codec.Verify(credential)
	if verifyErr != nil {
		gate.logger.Warn("credential rejected",
			zap.String("code", "gate.credential.invalid"),
			zap.Error(verifyErr))
		gate.metrics.Increment("gate.credential.invalid")
		contextGin.AbortWithStatus(http.StatusForbidden)
		return
	}

	user, findErr := gate.users.Find(contextGin.Request.Context(), claims.UserID)
	if findErr != nil {
		gate.logger.Warn("credential user missing",
			zap.String("code", "gate.credential.user_missing"),
			zap.Int64("user_id", claims.UserID),
			zap.Error(findErr))
		gate.metrics.Increment("gate.credential.user_missing")
		contextGin.AbortWithStatus(http.StatusForbidden)
		return
	}

	gate.metrics.Increment("gate.credential.accepted")
	contextGin.Set(UserContextKey, user)
	contextGin.Next()
}

func (gate *AuthGate) verifySession(contextGin *gin.Context) {
	sessionCookie, cookieErr := contextGin.Request.Cookie(gate.config.SessionCookieName)
	if cookieErr != nil || sessionCookie == nil || sessionCookie.Value == "" {
		gate.redirectToLogin(contextGin)
		return
	}

	userID, resolveErr := gate.sessions.Resolve(contextGin.Request.Context(), sessionCookie.Value)
	if resolveErr != nil {
		gate.redirectToLogin(contextGin)
		return
	}

	user, findErr := gate.users.Find(contextGin.Request.Context(), userID)
	if findErr != nil {
		gate.logger.Warn("session user missing",
			zap.String("code", "gate.session.user_missing"),
			zap.Int64("user_id", userID),
			zap.Error(findErr))
		gate.redirectToLogin(contextGin)
		return
	}

	gate.logger.Debug("session authenticated", zap.Int64("user_id", user.ID))
	gate.metrics.Increment("gate.session.accepted")
	contextGin.Set(UserContextKey, user)
	contextGin.Next()
}

// Unauthenticated callers are redirected to the login route, never rejected.
func (gate *AuthGate) redirectToLogin(contextGin *gin.Context) {
	gate.metrics.Increment("gate.session.redirect")
	contextGin.Redirect(http.StatusFound, gate.config.LoginRoute)
	contextGin.Abort()
}

func bearerCredential(authorizationHeader string) string {
	scheme, credential, found := strings.Cut(authorizationHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credential)
}

// UserFromContext returns the user the gate resolved for this request.
func UserFromContext(contextGin *gin.Context) (*User, bool) {
	value, found := contextGin.Get(UserContextKey)
	if !found {
		return nil, false
	}
	user, ok := value.(*User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}
