package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/ulissesGimSolubio/auth-api/internal/config"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// Transport decides how tokens travel: JSON body and Authorization header
// (bearer mode) or HttpOnly cookies (cookie mode).
type Transport struct {
	mode        string
	secure      bool
	domain      string
	sameSite    http.SameSite
	accessTTL   time.Duration
	refreshTTL  time.Duration
	refreshPath string
}

func NewTransport(cfg config.Auth, accessTTL, refreshTTL time.Duration, refreshPath string) Transport {
	if refreshPath == "" {
		refreshPath = "/"
	}
	return Transport{
		mode:        cfg.Transport,
		secure:      cfg.CookieSecure,
		domain:      cfg.CookieDomain,
		sameSite:    cfg.SameSite(),
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		refreshPath: refreshPath,
	}
}

func (t Transport) Cookies() bool { return t.mode == config.TransportCookie }

// AccessToken extracts the access token from the request for the configured mode.
func (t Transport) AccessToken(r *http.Request) string {
	if t.Cookies() {
		if c, err := r.Cookie(AccessCookie); err == nil {
			return c.Value
		}
		return ""
	}
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// RefreshToken prefers the cookie in cookie mode and otherwise the body value.
func (t Transport) RefreshToken(r *http.Request, fromBody string) string {
	if t.Cookies() {
		if c, err := r.Cookie(RefreshCookie); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return fromBody
}

func (t Transport) cookie(name, value, path string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   t.domain,
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: t.sameSite,
		MaxAge:   int(maxAge.Seconds()),
	}
	if maxAge < 0 {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	}
	return c
}

// SetTokens writes the session cookies. An empty refresh token leaves the
// refresh cookie untouched. No-op in bearer mode.
func (t Transport) SetTokens(w http.ResponseWriter, access, refresh string) {
	if !t.Cookies() {
		return
	}
	if access != "" {
		http.SetCookie(w, t.cookie(AccessCookie, access, "/", t.accessTTL))
	}
	if refresh != "" {
		http.SetCookie(w, t.cookie(RefreshCookie, refresh, t.refreshPath, t.refreshTTL))
	}
}

// Clear expires both cookies. No-op in bearer mode.
func (t Transport) Clear(w http.ResponseWriter) {
	if !t.Cookies() {
		return
	}
	http.SetCookie(w, t.cookie(AccessCookie, "", "/", -1))
	http.SetCookie(w, t.cookie(RefreshCookie, "", t.refreshPath, -1))
}
