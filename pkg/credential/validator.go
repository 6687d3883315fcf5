// Package credential validates bearer credentials minted by the authgate
// service. Other services embed it to authorize non-session API clients
// without talking to the gate.
package credential

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "credential_claims"

// Sentinel errors exposed by the validator.
var (
	ErrMissingSigningKey = errors.New("credential.validator.missing_signing_key")
	ErrMissingHeader     = errors.New("credential.validator.missing_header")
	ErrMissingToken      = errors.New("credential.validator.missing_token")
	ErrInvalidScheme     = errors.New("credential.validator.invalid_scheme")
	ErrInvalidToken      = errors.New("credential.validator.invalid_token")
)

// Config configures the Validator.
type Config struct {
	SigningKey []byte
}

// Validator validates authgate bearer credentials.
type Validator struct {
	signingKey []byte
}

// Claims represent the payload embedded inside authgate credentials.
type Claims struct {
	UserID int64 `json:"id"`
	jwt.RegisteredClaims
}

// GetUserID returns the user identifier bound to the credential.
func (claims *Claims) GetUserID() int64 {
	if claims == nil {
		return 0
	}
	return claims.UserID
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("credential.validator.new: %w", ErrMissingSigningKey)
	}
	return &Validator{signingKey: configuration.SigningKey}, nil
}

// ValidateToken validates the provided credential string and returns the parsed claims.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("credential.validator.validate_token: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("credential.validator.validate_token: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok || claims.UserID == 0 {
		return nil, fmt.Errorf("credential.validator.validate_token: %w", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateRequest reads the Authorization header from the request and validates it.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("credential.validator.validate_request: %w", ErrMissingHeader)
	}
	authorizationHeader := request.Header.Get("Authorization")
	if strings.TrimSpace(authorizationHeader) == "" {
		return nil, fmt.Errorf("credential.validator.validate_request: %w", ErrMissingHeader)
	}
	scheme, token, found := strings.Cut(authorizationHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return nil, fmt.Errorf("credential.validator.validate_request: %w", ErrInvalidScheme)
	}
	return validator.ValidateToken(strings.TrimSpace(token))
}

// GinMiddleware returns a Gin middleware that validates the bearer credential and injects claims.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}
