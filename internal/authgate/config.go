package authgate

import (
	"net/http"
	"time"
)

// ServiceConfig configures the provider client, credential signing, and sessions.
type ServiceConfig struct {
	ProviderName      string
	ClientID          string
	ClientSecret      string
	AuthURL           string
	TokenURL          string
	UserInfoURL       string
	UploadURL         string
	CallbackURL       string
	Scope             string
	LoginRoute        string
	SigningSecret     []byte
	SessionCookieName string
	CookieDomain      string
	SessionTTL        time.Duration
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
}

// RequiredScope is the scope string the provider must echo back on callback.
func (configuration ServiceConfig) RequiredScope() string {
	return "read," + configuration.Scope
}
