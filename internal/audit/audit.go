package audit

import "log/slog"

// Enabled controls whether audit log entries are emitted. Set to false to
// suppress all audit output (useful in tests that don't exercise auditing).
var Enabled = true

// Event is a structured audit record of a rejected authentication or a
// users file sync.
// Only non-zero fields are included in the log output.
type Event struct {
	Subject   string // Subject identifier from the token, if one was decoded.
	Outcome   string // The rejection kind, or "users_synced".
	Reason    string // Human-readable explanation.
	Method    string // HTTP method.
	Path      string // Request path.
	IP        string // Client IP address.
	RequestID string // Correlates with the request log line.
}

// Info emits the event as an INFO-level structured audit log entry.
func (e Event) Info(msg string) {
	if !Enabled {
		return
	}
	slog.Info(msg, slog.Group("audit", e.attrs()...)) //nolint:gosec // structured logger safely escapes taint
}

// Warn emits the event as a WARN-level structured audit log entry.
func (e Event) Warn(msg string) {
	if !Enabled {
		return
	}
	slog.Warn(msg, slog.Group("audit", e.attrs()...)) //nolint:gosec // structured logger safely escapes taint
}

func (e Event) attrs() []any {
	var attrs []any
	add := func(key, val string) {
		if val != "" {
			attrs = append(attrs, slog.String(key, val))
		}
	}
	add("subject", e.Subject)
	add("outcome", e.Outcome)
	add("reason", e.Reason)
	add("method", e.Method)
	add("path", e.Path)
	add("ip_address", e.IP)
	add("request_id", e.RequestID)
	return attrs
}
