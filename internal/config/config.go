package config

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INVENTORY_BACKEND_"

// Config holds all server configuration.
type Config struct {
	Addr      string // listen address, e.g. ":8080"
	DBPath    string // path to SQLite database file
	UsersFile string // optional YAML seed file with user records
	// UsersPrune deletes stored users missing from UsersFile on every load.
	UsersPrune bool
	TLS       bool
	CertFile  string
	KeyFile   string

	// Bearer token verification.
	JWTSigningKey   string // HMAC secret string or path to PEM public key file
	JWTIssuer       string // expected JWT issuer (optional)
	JWTAudience     string // expected JWT audience (optional)
	JWTSubjectClaim string // claim carrying the subject (default: "sub")

	// OIDC token verification (alternative to JWTSigningKey).
	OIDCIssuer   string // issuer URL used for discovery and JWKS
	OIDCClientID string // expected audience (empty = skip the check)

	// Comma-separated CIDRs whose X-Real-Ip / X-Forwarded-For are trusted.
	TrustedProxies string

	// Identity lookup.
	LookupTimeout     time.Duration // upper bound on a single identity lookup
	IdentityCacheSize int           // LRU entries for resolved identities (0 = disabled)
	IdentityCacheTTL  time.Duration // lifetime of a cached identity

	// Logging.
	LogFormat string // "json" (default) or "text"
	LogLevel  string // "debug", "info" (default), "warn" or "error"
	AuditLogs bool   // enable audit logging (default true)

	// Tracing. Exporter endpoint comes from OTEL_EXPORTER_OTLP_ENDPOINT.
	OTelServiceName string // empty = tracing disabled
}

// Parse reads configuration from command-line flags and environment overrides.
func Parse() *Config {
	return parse(flag.CommandLine, os.Args[1:], os.Getenv)
}

func parse(fs *flag.FlagSet, args []string, getenv func(string) string) *Config {
	c := &Config{}
	fs.StringVar(&c.Addr, "addr", ":8080", "listen address")
	fs.StringVar(&c.DBPath, "db", "inventory-backend.db", "SQLite database path")
	fs.StringVar(&c.UsersFile, "users-file", "", "YAML file with users to seed on startup")
	fs.BoolVar(&c.UsersPrune, "users-prune", false, "delete stored users not listed in users-file")
	fs.BoolVar(&c.TLS, "tls", false, "enable TLS")
	fs.StringVar(&c.CertFile, "cert", "", "TLS certificate file")
	fs.StringVar(&c.KeyFile, "key", "", "TLS key file")

	fs.StringVar(&c.JWTSigningKey, "jwt-signing-key", "", "HMAC secret or path to PEM public key for JWT verification")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", "", "expected JWT issuer claim (optional)")
	fs.StringVar(&c.JWTAudience, "jwt-audience", "", "expected JWT audience claim (optional)")
	fs.StringVar(&c.JWTSubjectClaim, "jwt-subject-claim", "sub", "JWT claim carrying the subject (sub or email)")

	fs.StringVar(&c.OIDCIssuer, "oidc-issuer", "", "OIDC issuer URL; tokens are verified against its JWKS instead of jwt-signing-key")
	fs.StringVar(&c.OIDCClientID, "oidc-client-id", "", "expected OIDC token audience (optional)")
	fs.StringVar(&c.TrustedProxies, "trusted-proxies", "", "comma-separated CIDRs allowed to set X-Real-Ip / X-Forwarded-For")

	fs.DurationVar(&c.LookupTimeout, "lookup-timeout", 5*time.Second, "identity lookup timeout")
	fs.IntVar(&c.IdentityCacheSize, "identity-cache-size", 0, "resolved identity cache entries (0 = disabled)")
	fs.DurationVar(&c.IdentityCacheTTL, "identity-cache-ttl", time.Minute, "resolved identity cache TTL")

	fs.StringVar(&c.LogFormat, "log-format", "json", "log format: json or text")
	fs.StringVar(&c.LogLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.BoolVar(&c.AuditLogs, "audit-logs", true, "enable structured audit logging")

	fs.StringVar(&c.OTelServiceName, "otel-service-name", "", "OpenTelemetry service name (empty = tracing disabled)")

	_ = fs.Parse(args)

	// Allow env overrides.
	env := func(name string) string { return getenv(EnvPrefix + name) }
	if v := env("ADDR"); v != "" {
		c.Addr = v
	}
	if v := env("DB"); v != "" {
		c.DBPath = v
	}
	if v := env("USERS_FILE"); v != "" {
		c.UsersFile = v
	}
	if v := env("USERS_PRUNE"); v == "true" {
		c.UsersPrune = true
	}
	if v := env("TLS"); v == "true" {
		c.TLS = true
	}
	if v := env("CERT"); v != "" {
		c.CertFile = v
	}
	if v := env("KEY"); v != "" {
		c.KeyFile = v
	}
	if v := env("JWT_SIGNING_KEY"); v != "" {
		c.JWTSigningKey = v
	}
	if v := env("JWT_ISSUER"); v != "" {
		c.JWTIssuer = v
	}
	if v := env("JWT_AUDIENCE"); v != "" {
		c.JWTAudience = v
	}
	if v := env("JWT_SUBJECT_CLAIM"); v != "" {
		c.JWTSubjectClaim = v
	}
	if v := env("OIDC_ISSUER"); v != "" {
		c.OIDCIssuer = v
	}
	if v := env("OIDC_CLIENT_ID"); v != "" {
		c.OIDCClientID = v
	}
	if v := env("TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = v
	}
	if v := env("LOOKUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LookupTimeout = d
		}
	}
	if v := env("IDENTITY_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.IdentityCacheSize = n
		}
	}
	if v := env("IDENTITY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.IdentityCacheTTL = d
		}
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := env("AUDIT_LOGS"); v == "false" {
		c.AuditLogs = false
	}
	if v := env("OTEL_SERVICE_NAME"); v != "" {
		c.OTelServiceName = v
	}

	return c
}

// Validate reports configuration that would prevent the server from starting.
func (c *Config) Validate() error {
	var errs []error
	switch {
	case c.JWTSigningKey == "" && c.OIDCIssuer == "":
		errs = append(errs, errors.New("jwt-signing-key or oidc-issuer is required"))
	case c.JWTSigningKey != "" && c.OIDCIssuer != "":
		errs = append(errs, errors.New("jwt-signing-key and oidc-issuer are mutually exclusive"))
	}
	if c.UsersPrune && c.UsersFile == "" {
		errs = append(errs, errors.New("users-prune requires users-file"))
	}
	if c.LookupTimeout <= 0 {
		errs = append(errs, errors.New("lookup-timeout must be positive"))
	}
	if c.IdentityCacheSize < 0 {
		errs = append(errs, errors.New("identity-cache-size must not be negative"))
	}
	if c.IdentityCacheSize > 0 && c.IdentityCacheTTL <= 0 {
		errs = append(errs, errors.New("identity-cache-ttl must be positive when the cache is enabled"))
	}
	if c.TLS && (c.CertFile == "" || c.KeyFile == "") {
		errs = append(errs, errors.New("cert and key are required when tls is enabled"))
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		errs = append(errs, errors.New("log-level must be one of debug, info, warn, error"))
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
