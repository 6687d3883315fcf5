package authgate

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenizeState is the state sentinel that asks the callback to answer with
// a stateless credential instead of establishing a session.
const TokenizeState = "tokenize"

// LoginFlowController orchestrates the first-time OAuth handshake:
// initiating authorization, handling the provider callback, and deciding
// between a credential handoff and a continued session.
type LoginFlowController struct {
	provider ProviderClient
	users    UserStore
	sessions SessionStore
	codec    *ClaimsCodec
	identity IDTokenValidator
	config   ServiceConfig
	logger   *zap.Logger
	metrics  MetricsRecorder
}

// NewLoginFlowController wires the flow controller with its collaborators.
// The identity validator may be nil; the id_token check is then skipped.
func NewLoginFlowController(provider ProviderClient, users UserStore, sessions SessionStore, codec *ClaimsCodec, identity IDTokenValidator, configuration ServiceConfig, logger *zap.Logger, metrics MetricsRecorder) *LoginFlowController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &LoginFlowController{
		provider: provider,
		users:    users,
		sessions: sessions,
		codec:    codec,
		identity: identity,
		config:   configuration,
		logger:   logger,
		metrics:  metrics,
	}
}

// HandleLogin redirects to the provider authorization endpoint with the
// required scope. force=true forces the consent prompt; otherwise the
// optional state is passed through opaquely for the provider to echo back.
func (flow *LoginFlowController) HandleLogin(contextGin *gin.Context) {
	forceConsent := contextGin.Query("force") == "true"
	state := contextGin.Query("state")
	if forceConsent {
		flow.logger.Debug("forcing provider consent prompt")
	}
	contextGin.Redirect(http.StatusFound, flow.provider.AuthCodeURL(state, forceConsent))
}

// HandleCallback runs the provider exchange and decides the terminal state:
// rejected (redirect to login route), credential issued (JSON token body),
// or session established (redirect to application root).
func (flow *LoginFlowController) HandleCallback(contextGin *gin.Context) {
	requestContext := contextGin.Request.Context()

	if providerError := contextGin.Query("error"); providerError != "" {
		flow.rejectCallback(contextGin, "provider denied authorization", zap.String("provider_error", providerError))
		return
	}
	code := contextGin.Query("code")
	if code == "" {
		flow.rejectCallback(contextGin, "callback missing authorization code")
		return
	}

	grant, exchangeErr := flow.provider.Exchange(requestContext, code)
	if exchangeErr != nil {
		flow.rejectCallback(contextGin, "provider exchange failed", zap.Error(exchangeErr))
		return
	}

	if flow.identity != nil && grant.IDToken != "" {
		if identityErr := flow.identity.Validate(requestContext, grant.IDToken); identityErr != nil {
			flow.rejectCallback(contextGin, "identity token rejected", zap.Error(identityErr))
			return
		}
	}

	accountID, resolveErr := flow.provider.ResolveAccount(requestContext, grant)
	if resolveErr != nil {
		flow.rejectCallback(contextGin, "provider account resolution failed", zap.Error(resolveErr))
		return
	}

	user, created, storeErr := flow.users.FindOrCreate(requestContext, User{
		ID:           accountID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
	})
	if storeErr != nil {
		flow.rejectCallback(contextGin, "user lookup failed", zap.Error(storeErr))
		return
	}
	if !created && (user.AccessToken != grant.AccessToken || user.RefreshToken != grant.RefreshToken) {
		if updateErr := flow.users.UpdateTokens(requestContext, user.ID, grant.AccessToken, grant.RefreshToken); updateErr != nil {
			flow.rejectCallback(contextGin, "token persistence failed", zap.Int64("user_id", user.ID), zap.Error(updateErr))
			return
		}
		user.AccessToken = grant.AccessToken
		user.RefreshToken = grant.RefreshToken
	}

	// A scope mismatch is observability only, never a rejection.
	echoedScope := contextGin.Query("scope")
	if echoedScope != flow.config.RequiredScope() {
		flow.logger.Debug("callback scope mismatch",
			zap.Int64("user_id", user.ID),
			zap.String("scope", echoedScope))
	}

	if contextGin.Query("state") == TokenizeState {
		flow.issueCredential(contextGin, user)
		return
	}
	flow.establishSession(contextGin, user)
}

// HandleLogout destroys the interactive session and clears its cookie.
func (flow *LoginFlowController) HandleLogout(contextGin *gin.Context) {
	sessionCookie, cookieErr := contextGin.Request.Cookie(flow.config.SessionCookieName)
	if cookieErr == nil && sessionCookie != nil && sessionCookie.Value != "" {
		if destroyErr := flow.sessions.Destroy(contextGin.Request.Context(), sessionCookie.Value); destroyErr != nil {
			flow.logger.Debug("logout without live session", zap.Error(destroyErr))
		}
	}
	flow.clearSessionCookie(contextGin)
	contextGin.Status(http.StatusNoContent)
}

func (flow *LoginFlowController) issueCredential(contextGin *gin.Context, user *User) {
	credential, issueErr := flow.codec.Issue(user.ID)
	if issueErr != nil {
		flow.logger.Error("credential issuance failed",
			zap.String("code", "flow.tokenize.issue_failed"),
			zap.Int64("user_id", user.ID),
			zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	flow.metrics.Increment("flow.credential_issued")
	contextGin.JSON(http.StatusOK, gin.H{"token": credential})
}

func (flow *LoginFlowController) establishSession(contextGin *gin.Context, user *User) {
	sessionToken, establishErr := flow.sessions.Establish(contextGin.Request.Context(), user.ID)
	if establishErr != nil {
		flow.logger.Error("session establishment failed",
			zap.String("code", "flow.session.establish_failed"),
			zap.Int64("user_id", user.ID),
			zap.Error(establishErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	flow.writeSessionCookie(contextGin, sessionToken)
	flow.metrics.Increment("flow.session_established")
	contextGin.Redirect(http.StatusFound, "/")
}

func (flow *LoginFlowController) rejectCallback(contextGin *gin.Context, reason string, fields ...zap.Field) {
	flow.logger.Warn("callback rejected", append([]zap.Field{zap.String("code", "flow.callback.rejected"), zap.String("reason", reason)}, fields...)...)
	flow.metrics.Increment("flow.callback.rejected")
	contextGin.Redirect(http.StatusFound, flow.config.LoginRoute)
	contextGin.Abort()
}

func (flow *LoginFlowController) writeSessionCookie(contextGin *gin.Context, sessionToken string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     flow.config.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		Domain:   flow.config.CookieDomain,
		Expires:  time.Now().UTC().Add(flow.config.SessionTTL),
		Secure:   !flow.config.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: flow.config.SameSiteMode,
	})
}

func (flow *LoginFlowController) clearSessionCookie(contextGin *gin.Context) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     flow.config.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   flow.config.CookieDomain,
		MaxAge:   -1,
		Secure:   !flow.config.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: flow.config.SameSiteMode,
	})
}
