package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubVerifier maps raw tokens to claims or verification errors.
type stubVerifier struct {
	claims map[string]map[string]any
	errs   map[string]error
	calls  int
}

func (s *stubVerifier) Verify(ctx context.Context, rawIDToken string) (map[string]any, error) {
	s.calls++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("verification must be bounded")
	}
	if err, ok := s.errs[rawIDToken]; ok {
		return nil, err
	}
	if c, ok := s.claims[rawIDToken]; ok {
		return c, nil
	}
	return nil, errors.New("oidc: malformed jwt: square/go-jose: compact JWS format must have three parts")
}

func newStubOIDCValidator(subjectClaim string) (*OIDCValidator, *stubVerifier) {
	stub := &stubVerifier{
		claims: map[string]map[string]any{
			"good":      {"sub": "u@example.com", "email": "mail@example.com"},
			"bound":     {"sub": "u@example.com", CredentialClaim: CredentialFingerprint("$2a$10$u")},
			"stale":     {"sub": "u@example.com", CredentialClaim: CredentialFingerprint("$2a$10$old")},
			"nosubject": {"email": "mail@example.com"},
		},
		errs: map[string]error{
			"forged":  errors.New("oidc: failed to verify signature: failed to verify id token signature"),
			"expired": &oidc.TokenExpiredError{Expiry: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	return newOIDCValidator(stub, subjectClaim), stub
}

func TestOIDCValidator_ExtractSubject(t *testing.T) {
	v, _ := newStubOIDCValidator("")

	tests := []struct {
		name    string
		token   string
		subject string
		kind    ErrorKind
	}{
		{"valid", "good", "u@example.com", ""},
		{"malformed", "garbage", "", KindTokenDecode},
		{"bad signature", "forged", "", KindSignatureInvalid},
		{"expired", "expired", "", KindTokenDecode},
		{"missing subject", "nosubject", "", KindTokenDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, err := v.ExtractSubject(tt.token)
			if tt.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.subject, subject)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestOIDCValidator_SubjectClaim(t *testing.T) {
	v, _ := newStubOIDCValidator("email")

	subject, err := v.ExtractSubject("good")
	require.NoError(t, err)
	assert.Equal(t, "mail@example.com", subject)
}

func TestOIDCValidator_ExpiredMessage(t *testing.T) {
	v, _ := newStubOIDCValidator("")

	_, err := v.ExtractSubject("expired")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-01-01T00:00:00Z")
}

func TestOIDCValidator_IsValid(t *testing.T) {
	v, stub := newStubOIDCValidator("")
	p := staticPrincipal{subject: "u@example.com", authorities: []string{"ROLE_USER"}, hash: "$2a$10$u"}
	other := staticPrincipal{subject: "other@example.com", hash: "$2a$10$u"}

	tests := []struct {
		name  string
		token string
		p     Principal
		want  bool
	}{
		{"subject matches", "good", p, true},
		{"fingerprint matches", "bound", p, true},
		{"stale fingerprint", "stale", p, false},
		{"other principal", "good", other, false},
		{"unverifiable", "forged", p, false},
		{"nil principal", "good", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsValid(tt.token, tt.p))
		})
	}
	assert.Equal(t, len(tests)-1, stub.calls, "nil principal must not reach the verifier")
}

func TestOIDCValidator_InRequestPipeline(t *testing.T) {
	v, _ := newStubOIDCValidator("")
	a := NewRequestAuthenticator(v, NewIdentityResolver(newMapProvider(userPrincipalFixture), time.Second))

	rec, next := serve(t, a, newRequest("Bearer good"))
	assert.Equal(t, 200, rec.Code)
	require.NotNil(t, next.identity)
	assert.Equal(t, "u@example.com", next.identity.SubjectID)

	rec, next = serve(t, a, newRequest("Bearer forged"))
	assert.Equal(t, 401, rec.Code)
	assert.Equal(t, 0, next.calls)
	assert.Equal(t, string(KindSignatureInvalid), decodeError(t, rec).Error)
}

func TestNewOIDCValidator_RequiresIssuer(t *testing.T) {
	_, err := NewOIDCValidator(context.Background(), OIDCConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer")
}

func TestNewOIDCValidator_DiscoveryFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOIDCValidator(ctx, OIDCConfig{Issuer: "http://127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("oidc discovery for %s", "http://127.0.0.1:1"))
}
