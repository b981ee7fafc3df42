package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/ulissesGimSolubio/auth-api/pkg/database"
	"github.com/ulissesGimSolubio/auth-api/pkg/utilities"
)

const (
	TransportBearer = "bearer"
	TransportCookie = "cookie"
)

// Config is resolved once at startup and passed by value afterwards.
type Config struct {
	Env            string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	AutoMigrate    bool   `env:"AUTO_MIGRATE" envDefault:"false"`
	SnowflakeNode  int64  `env:"SNOWFLAKE_NODE" envDefault:"1"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`

	Database  database.Config `envPrefix:"DATABASE_"`
	Log       utilities.LogConfig
	JWT       JWT
	Auth      Auth
	SMTP      SMTP      `envPrefix:"SMTP_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
}

// JWT holds the two independent signing secrets and token lifetimes.
type JWT struct {
	AccessSecret  string        `env:"JWT_ACCESS_SECRET"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"auth-api"`
	AccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
}

// Auth groups the behavioural switches of the authentication flows.
type Auth struct {
	Transport      string `env:"AUTH_TRANSPORT" envDefault:"bearer"`
	CookieSecure   bool   `env:"COOKIE_SECURE" envDefault:"true"`
	CookieDomain   string `env:"COOKIE_DOMAIN"`
	CookieSameSite string `env:"COOKIE_SAMESITE" envDefault:"strict"`

	RotateRefreshTokens bool `env:"ROTATE_REFRESH_TOKENS" envDefault:"false"`

	InviteRequired     bool          `env:"INVITE_REQUIRED" envDefault:"false"`
	InviteTTL          time.Duration `env:"INVITE_TTL" envDefault:"24h"`
	InviteAllowedRoles []string      `env:"INVITE_ALLOWED_ROLES" envDefault:"ADMIN,COORDENADOR" envSeparator:","`
	AdminRoles         []string      `env:"ADMIN_ROLES" envDefault:"ADMIN" envSeparator:","`
	ViewerRoles        []string      `env:"VIEWER_ROLES" envDefault:"ADMIN,COORDENADOR" envSeparator:","`
	DefaultRole        string        `env:"DEFAULT_ROLE"`

	TOTPIssuer                   string `env:"TOTP_ISSUER" envDefault:"AuthAPI"`
	TwoFactorRequireConfirmation bool   `env:"TWO_FACTOR_REQUIRE_CONFIRMATION" envDefault:"false"`

	PasswordResetTTL time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"1h"`
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"10"`

	MaxFailedAttempts int           `env:"LOGIN_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	FailureWindow     time.Duration `env:"LOGIN_FAILURE_WINDOW" envDefault:"10m"`

	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
}

// SMTP is parsed with the SMTP_ prefix. An empty Host selects the log-only mailer.
type SMTP struct {
	Host    string        `env:"HOST"`
	Port    int           `env:"PORT" envDefault:"587"`
	User    string        `env:"USER"`
	Pass    string        `env:"PASS"`
	From    string        `env:"FROM"`
	TLSMode string        `env:"TLS_MODE" envDefault:"auto"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Redis is parsed with the REDIS_ prefix. An empty Addr selects the in-process limiter.
type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"authapi:rl:"`
}

// RateLimit is parsed with the RATE_LIMIT_ prefix.
type RateLimit struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	GeneralMax     int           `env:"GENERAL_MAX" envDefault:"100"`
	GeneralWindow  time.Duration `env:"GENERAL_WINDOW" envDefault:"15m"`
	AuthMax        int           `env:"AUTH_MAX" envDefault:"20"`
	AuthWindow     time.Duration `env:"AUTH_WINDOW" envDefault:"15m"`
	RegisterMax    int           `env:"REGISTER_MAX" envDefault:"3"`
	RegisterWindow time.Duration `env:"REGISTER_WINDOW" envDefault:"1h"`
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from the given map instead of the process
// environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDevelopment reports whether APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required"))
	} else if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if !c.IsDevelopment() && (len(c.JWT.AccessSecret) < 32 || len(c.JWT.RefreshSecret) < 32) {
		errs = append(errs, fmt.Errorf("JWT secrets must be at least 32 characters in %q mode", c.Env))
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		errs = append(errs, errors.New("JWT TTLs must be positive"))
	}
	switch c.Auth.Transport {
	case TransportBearer, TransportCookie:
	default:
		errs = append(errs, fmt.Errorf("AUTH_TRANSPORT must be %q or %q, got %q", TransportBearer, TransportCookie, c.Auth.Transport))
	}
	if _, ok := sameSiteModes[strings.ToLower(c.Auth.CookieSameSite)]; !ok {
		errs = append(errs, fmt.Errorf("invalid COOKIE_SAMESITE %q", c.Auth.CookieSameSite))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be within 4..31, got %d", c.Auth.BcryptCost))
	}
	if c.Auth.MaxFailedAttempts <= 0 || c.Auth.FailureWindow <= 0 {
		errs = append(errs, errors.New("login throttle limits must be positive"))
	}
	if c.Auth.PasswordResetTTL <= 0 || c.Auth.InviteTTL <= 0 {
		errs = append(errs, errors.New("reset and invite TTLs must be positive"))
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		errs = append(errs, fmt.Errorf("SNOWFLAKE_NODE must be within 0..1023, got %d", c.SnowflakeNode))
	}
	return errors.Join(errs...)
}

var sameSiteModes = map[string]http.SameSite{
	"strict": http.SameSiteStrictMode,
	"lax":    http.SameSiteLaxMode,
	"none":   http.SameSiteNoneMode,
}

// SameSite maps COOKIE_SAMESITE to its net/http value.
func (a Auth) SameSite() http.SameSite {
	if m, ok := sameSiteModes[strings.ToLower(a.CookieSameSite)]; ok {
		return m
	}
	return http.SameSiteStrictMode
}
