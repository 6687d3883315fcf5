package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ProviderGrant is the token material the provider returns from an exchange.
type ProviderGrant struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	IDToken      string
}

// ProviderClient is the OAuth provider contract consumed by the flow
// controller and the token refresher. Constructed once and injected; no
// process-wide strategy registry.
type ProviderClient interface {
	AuthCodeURL(state string, forceConsent bool) string
	Exchange(ctx context.Context, code string) (ProviderGrant, error)
	ResolveAccount(ctx context.Context, grant ProviderGrant) (int64, error)
	RequestNewAccessToken(ctx context.Context, refreshToken string) (string, string, error)
}

// OAuthProviderClient implements ProviderClient on top of golang.org/x/oauth2.
type OAuthProviderClient struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewOAuthProviderClient builds a provider client from the service configuration.
func NewOAuthProviderClient(configuration ServiceConfig, httpClient *http.Client) *OAuthProviderClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OAuthProviderClient{
		name: configuration.ProviderName,
		config: &oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			RedirectURL:  configuration.CallbackURL,
			Scopes:       []string{configuration.Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  configuration.AuthURL,
				TokenURL: configuration.TokenURL,
			},
		},
		userInfoURL: configuration.UserInfoURL,
		httpClient:  httpClient,
	}
}

// Name returns the configured provider name.
func (client *OAuthProviderClient) Name() string {
	return client.name
}

// AuthCodeURL builds the provider authorization URL. Forcing consent makes
// the provider re-prompt even for previously granted scopes; the opaque
// state is dropped in that mode, matching the initiate contract.
func (client *OAuthProviderClient) AuthCodeURL(state string, forceConsent bool) string {
	if forceConsent {
		return client.config.AuthCodeURL("", oauth2.SetAuthURLParam("approval_prompt", "force"))
	}
	return client.config.AuthCodeURL(state)
}

// Exchange trades the authorization code for a token pair.
func (client *OAuthProviderClient) Exchange(ctx context.Context, code string) (ProviderGrant, error) {
	token, exchangeErr := client.config.Exchange(client.contextWithClient(ctx), code)
	if exchangeErr != nil {
		return ProviderGrant{}, fmt.Errorf("provider.exchange.%s: %w", client.name, exchangeErr)
	}
	grant := ProviderGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		grant.Scope = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		grant.IDToken = idToken
	}
	return grant, nil
}

// ResolveAccount fetches the provider profile for the granted access token
// and returns the provider's numeric account id.
func (client *OAuthProviderClient) ResolveAccount(ctx context.Context, grant ProviderGrant) (int64, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, client.userInfoURL, nil)
	if requestErr != nil {
		return 0, fmt.Errorf("provider.profile.%s: %w", client.name, requestErr)
	}
	request.Header.Set("Authorization", "Bearer "+grant.AccessToken)
	request.Header.Set("Accept", "application/json")

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return 0, fmt.Errorf("provider.profile.%s: %w", client.name, doErr)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("provider.profile.%s: unexpected status %d", client.name, response.StatusCode)
	}

	var payload struct {
		ID int64 `json:"id"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return 0, fmt.Errorf("provider.profile.%s: %w", client.name, decodeErr)
	}
	if payload.ID == 0 {
		return 0, fmt.Errorf("provider.profile.%s: missing account id", client.name)
	}
	return payload.ID, nil
}

// RequestNewAccessToken asks the provider token endpoint for a fresh access
// token using the stored refresh token. The returned refresh token equals
// the input when the provider does not rotate it.
func (client *OAuthProviderClient) RequestNewAccessToken(ctx context.Context, refreshToken string) (string, string, error) {
	source := client.config.TokenSource(client.contextWithClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, tokenErr := source.Token()
	if tokenErr != nil {
		return "", "", fmt.Errorf("provider.refresh.%s: %w", client.name, tokenErr)
	}
	if token.AccessToken == "" {
		return "", "", fmt.Errorf("provider.refresh.%s: empty access token", client.name)
	}
	newRefreshToken := token.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}
	return token.AccessToken, newRefreshToken, nil
}

func (client *OAuthProviderClient) contextWithClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client.httpClient)
}

// ProviderStatusCode extracts the HTTP status the provider answered with,
// falling back to 502 when the failure never reached the provider.
func ProviderStatusCode(err error) int {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return retrieveErr.Response.StatusCode
	}
	return http.StatusBadGateway
}
