package authgate

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"
)

// IDTokenValidator checks the identity token some providers attach to the
// code exchange. Optional: a nil validator skips the check.
type IDTokenValidator interface {
	Validate(ctx context.Context, rawIDToken string) error
}

// GoogleIDTokenValidator validates Google-issued identity tokens against the
// configured OAuth client id.
type GoogleIDTokenValidator struct {
	validator *idtoken.Validator
	audience  string
}

// NewGoogleIDTokenValidator constructs a validator bound to the client id.
func NewGoogleIDTokenValidator(ctx context.Context, clientID string) (*GoogleIDTokenValidator, error) {
	validator, validatorErr := idtoken.NewValidator(ctx)
	if validatorErr != nil {
		return nil, fmt.Errorf("identity.validator_init: %w", validatorErr)
	}
	return &GoogleIDTokenValidator{validator: validator, audience: clientID}, nil
}

// Validate verifies the signature, audience, and issuer of the identity token.
func (google *GoogleIDTokenValidator) Validate(ctx context.Context, rawIDToken string) error {
	payload, validateErr := google.validator.Validate(ctx, rawIDToken, google.audience)
	if validateErr != nil {
		return fmt.Errorf("identity.invalid_token: %w", validateErr)
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		return fmt.Errorf("identity.invalid_issuer: %q", issuerValue)
	}
	return nil
}
