package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hatemosphere/inventory-backend/internal/audit"
)

// RequestIDHeader is read for audit correlation.
const RequestIDHeader = "X-Request-Id"

// Request carries the parts of an inbound request the authenticator reads.
type Request struct {
	Authorization string
	Method        string
	Path          string
	RemoteAddr    string
	RequestID     string
}

// RequestFromHTTP extracts a Request from an *http.Request.
func RequestFromHTTP(r *http.Request) Request {
	return Request{
		Authorization: r.Header.Get(AuthorizationHeader),
		Method:        r.Method,
		Path:          r.URL.Path,
		RemoteAddr:    r.RemoteAddr,
		RequestID:     r.Header.Get(RequestIDHeader),
	}
}

// RequestAuthenticator validates bearer tokens and attaches the resolved
// Identity to the request context. It runs once per inbound request.
type RequestAuthenticator struct {
	validator TokenValidator
	resolver  *IdentityResolver
}

// NewRequestAuthenticator wires a token validator and identity resolver.
func NewRequestAuthenticator(validator TokenValidator, resolver *IdentityResolver) *RequestAuthenticator {
	return &RequestAuthenticator{validator: validator, resolver: resolver}
}

// Evaluate runs extraction, validation, resolution and attachment in order.
// It returns the context the request must continue with. A non-nil error is
// either an *Error, which callers report as 401, or the request context's
// own cancellation error, in which case the request is abandoned. On error
// ctx is never modified.
func (a *RequestAuthenticator) Evaluate(ctx context.Context, req Request) (context.Context, error) {
	token, ok := ExtractBearerToken(req.Authorization)
	if !ok {
		authAttemptsTotal.WithLabelValues(OutcomeAnonymous).Inc()
		return ctx, nil
	}

	subject, err := a.validator.ExtractSubject(token)
	if err != nil {
		a.reject(req, "", err)
		return ctx, err
	}

	// An identity attached earlier in the pipeline is kept as-is; the token
	// is not checked against it.
	if IdentityFromContext(ctx) != nil {
		authAttemptsTotal.WithLabelValues(OutcomeAlreadyAuthenticated).Inc()
		return ctx, nil
	}

	identity, err := a.resolver.Resolve(ctx, subject)
	if err != nil {
		if KindOf(err) == "" {
			authAttemptsTotal.WithLabelValues(OutcomeAbandoned).Inc()
			slog.Debug("authentication abandoned", "subject", subject, "error", err)
			return ctx, err
		}
		a.reject(req, subject, err)
		return ctx, err
	}

	if !a.validator.IsValid(token, identity.Principal) {
		err := newError(KindTokenMismatch, "token is not valid for %s", subject)
		a.reject(req, subject, err)
		return ctx, err
	}

	// Abandon rather than attach if the request went away mid-lookup.
	if err := ctx.Err(); err != nil {
		authAttemptsTotal.WithLabelValues(OutcomeAbandoned).Inc()
		return ctx, err
	}

	ctx, _ = AttachIdentity(ctx, identity)
	authAttemptsTotal.WithLabelValues(OutcomeAuthenticated).Inc()
	slog.Debug("bearer authentication successful", "subject", identity.SubjectID, "authorities", identity.Authorities)
	return ctx, nil
}

func (a *RequestAuthenticator) reject(req Request, subject string, err error) {
	kind := KindOf(err)
	authAttemptsTotal.WithLabelValues(string(kind)).Inc()
	slog.Warn("bearer authentication failed", "kind", kind, "subject", subject, "error", err)
	audit.Event{
		Subject:   subject,
		Outcome:   string(kind),
		Reason:    err.Error(),
		Method:    req.Method,
		Path:      req.Path,
		IP:        req.RemoteAddr,
		RequestID: req.RequestID,
	}.Warn("Audit Log: authentication rejected")
}

// Authenticate evaluates r and either invokes next exactly once or writes a
// 401 response and stops.
func (a *RequestAuthenticator) Authenticate(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx, err := a.Evaluate(r.Context(), RequestFromHTTP(r))
	if err != nil {
		if KindOf(err) != "" {
			WriteError(w, err)
		}
		return
	}
	next.ServeHTTP(w, r.WithContext(ctx))
}

// Middleware returns an http.Handler middleware running Authenticate.
func (a *RequestAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.Authenticate(w, r, next)
	})
}
