package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// defaultVerifyTimeout bounds a single OIDC verification, including a JWKS
// refresh when the token's key ID is not cached yet.
const defaultVerifyTimeout = 5 * time.Second

// OIDCConfig holds configuration for verifying tokens minted by an OIDC issuer.
type OIDCConfig struct {
	Issuer       string // issuer URL; discovery and JWKS are fetched from it
	ClientID     string // expected "aud" claim (empty = don't verify)
	SubjectClaim string // claim holding the subject identifier (default: "sub")
}

// oidcVerifier abstracts ID token verification for both production and tests.
type oidcVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (claims map[string]any, err error)
}

// goOIDCVerifier wraps go-oidc's IDTokenVerifier.
type goOIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *goOIDCVerifier) Verify(ctx context.Context, rawIDToken string) (map[string]any, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	return claims, nil
}

// OIDCValidator verifies bearer tokens against an OIDC issuer's signing keys.
// It implements TokenValidator.
type OIDCValidator struct {
	verifier     oidcVerifier
	subjectClaim string
	timeout      time.Duration
}

var _ TokenValidator = (*OIDCValidator)(nil)

// NewOIDCValidator runs OIDC discovery for config.Issuer and returns a
// validator using the issuer's published keys.
func NewOIDCValidator(ctx context.Context, config OIDCConfig) (*OIDCValidator, error) {
	if config.Issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}
	provider, err := oidc.NewProvider(ctx, config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", config.Issuer, err)
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          config.ClientID,
		SkipClientIDCheck: config.ClientID == "",
	})
	return newOIDCValidator(&goOIDCVerifier{verifier: verifier}, config.SubjectClaim), nil
}

func newOIDCValidator(verifier oidcVerifier, subjectClaim string) *OIDCValidator {
	if subjectClaim == "" {
		subjectClaim = "sub"
	}
	return &OIDCValidator{
		verifier:     verifier,
		subjectClaim: subjectClaim,
		timeout:      defaultVerifyTimeout,
	}
}

func (v *OIDCValidator) verify(rawToken string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	claims, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		var expired *oidc.TokenExpiredError
		switch {
		case errors.As(err, &expired):
			return nil, newError(KindTokenDecode, "invalid token: token expired at %s", expired.Expiry.UTC().Format(time.RFC3339))
		case strings.Contains(err.Error(), "failed to verify signature"):
			return nil, newError(KindSignatureInvalid, "invalid token signature")
		default:
			return nil, newError(KindTokenDecode, "invalid token: %w", err)
		}
	}
	return claims, nil
}

// ExtractSubject verifies the token with the issuer's keys and returns the
// configured subject claim.
func (v *OIDCValidator) ExtractSubject(rawToken string) (string, error) {
	claims, err := v.verify(rawToken)
	if err != nil {
		return "", err
	}
	subject, err := extractStringClaim(claims, v.subjectClaim)
	if err != nil {
		return "", newError(KindTokenDecode, "token missing %s claim: %w", v.subjectClaim, err)
	}
	return subject, nil
}

// IsValid re-verifies the token and checks that it was issued for p.
func (v *OIDCValidator) IsValid(rawToken string, p Principal) bool {
	if p == nil {
		return false
	}
	claims, err := v.verify(rawToken)
	if err != nil {
		return false
	}
	return claimsMatchPrincipal(claims, v.subjectClaim, p)
}
