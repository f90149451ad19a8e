package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialClaim is the optional claim binding a token to the credential
// state of the account it was issued for.
const CredentialClaim = "crd"

// TokenValidator decodes bearer tokens and checks them against resolved principals.
type TokenValidator interface {
	// ExtractSubject verifies the token and returns its subject identifier.
	// Failures are reported as *Error.
	ExtractSubject(token string) (string, error)
	// IsValid reports whether the token is still valid for the given principal.
	IsValid(token string, p Principal) bool
}

// JWTConfig holds configuration for JWT validation.
type JWTConfig struct {
	SigningKey   string // raw HMAC secret string OR path to PEM public key file
	Issuer       string // expected "iss" claim (empty = don't verify)
	Audience     string // expected "aud" claim (empty = don't verify)
	SubjectClaim string // claim holding the subject identifier (default: "sub")
}

// JWTValidator validates signed JWTs. It implements TokenValidator.
type JWTValidator struct {
	config JWTConfig
	parser *jwt.Parser
	key    any
}

var _ TokenValidator = (*JWTValidator)(nil)

// NewJWTValidator creates a JWT validator with auto-detected key type.
// If signingKey is a path to a PEM file, RSA or ECDSA public key is used.
// Otherwise, the raw string is treated as an HMAC-SHA256 secret.
func NewJWTValidator(config JWTConfig) (*JWTValidator, error) {
	if config.SigningKey == "" {
		return nil, errors.New("jwt signing key is required")
	}
	if config.SubjectClaim == "" {
		config.SubjectClaim = "sub"
	}

	signingKey, validMethods, err := parseSigningKey(config.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(config.Audience))
	}

	return &JWTValidator{
		config: config,
		parser: jwt.NewParser(parserOpts...),
		key:    signingKey,
	}, nil
}

// parseSigningKey auto-detects the key type from the input.
// Returns the parsed key and the list of valid signing methods.
func parseSigningKey(input string) (any, []string, error) {
	info, err := os.Stat(input)
	if err == nil && !info.IsDir() {
		pemBytes, err := os.ReadFile(input)
		if err != nil {
			return nil, nil, fmt.Errorf("read PEM file: %w", err)
		}

		if key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
			return key, []string{"RS256", "RS384", "RS512"}, nil
		}
		if key, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
			return key, []string{"ES256", "ES384", "ES512"}, nil
		}
		return nil, nil, errors.New("PEM file contains no recognized RSA or ECDSA public key")
	}

	// Treat as HMAC secret.
	return []byte(input), []string{"HS256", "HS384", "HS512"}, nil
}

func (v *JWTValidator) parse(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, newError(KindSignatureInvalid, "invalid token signature")
		}
		return nil, newError(KindTokenDecode, "invalid token: %w", err)
	}
	return claims, nil
}

// ExtractSubject parses and verifies a JWT, returning the configured subject claim.
func (v *JWTValidator) ExtractSubject(tokenString string) (string, error) {
	claims, err := v.parse(tokenString)
	if err != nil {
		return "", err
	}
	subject, err := extractStringClaim(claims, v.config.SubjectClaim)
	if err != nil {
		return "", newError(KindTokenDecode, "token missing %s claim: %w", v.config.SubjectClaim, err)
	}
	return subject, nil
}

// IsValid re-verifies the token and checks that it was issued for p. When the
// token carries a credential fingerprint it must match p's current credential.
func (v *JWTValidator) IsValid(tokenString string, p Principal) bool {
	if p == nil {
		return false
	}
	claims, err := v.parse(tokenString)
	if err != nil {
		return false
	}
	return claimsMatchPrincipal(claims, v.config.SubjectClaim, p)
}

// claimsMatchPrincipal checks verified claims against p: the subject claim
// must name p, and a credential fingerprint, when present, must match p's
// current credential.
func claimsMatchPrincipal(claims map[string]any, subjectClaim string, p Principal) bool {
	subject, err := extractStringClaim(claims, subjectClaim)
	if err != nil || subject != p.SubjectID() {
		return false
	}
	raw, ok := claims[CredentialClaim]
	if !ok {
		return true
	}
	fp, ok := raw.(string)
	if !ok {
		return false
	}
	want := CredentialFingerprint(p.CredentialHash())
	return subtle.ConstantTimeCompare([]byte(fp), []byte(want)) == 1
}

// CredentialFingerprint derives the value issuers put in the "crd" claim:
// the first 16 hex chars of the SHA-256 of the stored credential hash.
func CredentialFingerprint(credentialHash string) string {
	h := sha256.Sum256([]byte(credentialHash))
	return hex.EncodeToString(h[:])[:16]
}

// extractStringClaim returns a string claim value, or an error if missing/empty.
func extractStringClaim(claims map[string]any, key string) (string, error) {
	v, ok := claims[key]
	if !ok {
		return "", fmt.Errorf("claim %q not found", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("claim %q is not a non-empty string", key)
	}
	return s, nil
}
