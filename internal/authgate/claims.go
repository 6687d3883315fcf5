package authgate

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialClaims is the payload carried inside an issued credential.
type CredentialClaims struct {
	UserID int64 `json:"id"`
	jwt.RegisteredClaims
}

// ClaimsCodec mints and verifies signed bearer credentials.
//
// Credentials carry no expiry: they are long-lived API tokens for
// non-browser clients, revocable only by rotating the signing secret.
type ClaimsCodec struct {
	signingKey []byte
}

// NewClaimsCodec constructs a codec bound to the service signing secret.
func NewClaimsCodec(signingKey []byte) *ClaimsCodec {
	return &ClaimsCodec{signingKey: signingKey}
}

// Issue signs a credential binding the given user identifier.
func (codec *ClaimsCodec) Issue(userID int64) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, CredentialClaims{UserID: userID})
	signed, signErr := token.SignedString(codec.signingKey)
	if signErr != nil {
		return "", fmt.Errorf("credential.issue: %w", signErr)
	}
	return signed, nil
}

// Verify parses and validates a credential, returning its claims.
func (codec *ClaimsCodec) Verify(credential string) (*CredentialClaims, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrInvalidCredential)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(credential, &CredentialClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return codec.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, parseErr)
	}
	claims, ok := parsedToken.Claims.(*CredentialClaims)
	if !ok || claims.UserID == 0 {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidCredential)
	}
	return claims, nil
}
