package auth

import "strings"

const (
	// AuthorizationHeader carries the bearer credential.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the exact, case-sensitive scheme marker.
	BearerPrefix = "Bearer "
)

// ExtractBearerToken returns the token carried by an Authorization header value.
// Anything that is not "Bearer <token>" is reported as absent.
func ExtractBearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, BearerPrefix)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
