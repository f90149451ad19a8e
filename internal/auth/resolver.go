package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/hatemosphere/inventory-backend/internal/auth"

// DefaultLookupTimeout bounds a single identity provider call.
const DefaultLookupTimeout = 5 * time.Second

// IdentityResolver maps a validated subject identifier to an Identity.
type IdentityResolver struct {
	provider IdentityProvider
	timeout  time.Duration
}

// NewIdentityResolver creates a resolver over provider. A non-positive
// timeout selects DefaultLookupTimeout.
func NewIdentityResolver(provider IdentityProvider, timeout time.Duration) *IdentityResolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &IdentityResolver{provider: provider, timeout: timeout}
}

// Resolve looks up the subject and wraps the principal as an Identity.
// Cancellation of ctx is returned as-is so callers can abandon the request.
func (r *IdentityResolver) Resolve(ctx context.Context, subject string) (*Identity, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.ResolveIdentity")
	defer span.End()

	id, err := r.resolve(ctx, subject)
	if err != nil {
		outcome := string(KindOf(err))
		if outcome == "" {
			outcome = OutcomeAbandoned
		}
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("auth.outcome", OutcomeAuthenticated),
		attribute.Int("auth.authorities", len(id.Authorities)),
	)
	return id, nil
}

func (r *IdentityResolver) resolve(ctx context.Context, subject string) (*Identity, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	p, err := r.provider.FindBySubject(lookupCtx, subject)
	switch {
	case err == nil && p != nil:
		return NewIdentity(p), nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err == nil, errors.Is(err, ErrIdentityNotFound):
		return nil, newError(KindIdentityNotFound, "no identity found for subject %q", subject)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, newError(KindIdentityUnavailable, "identity lookup timed out after %s", r.timeout)
	default:
		// Storage errors stay out of the client-visible message.
		slog.Warn("identity lookup failed", "subject", subject, "error", err)
		return nil, newError(KindIdentityUnavailable, "identity lookup failed")
	}
}
