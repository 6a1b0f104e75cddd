package auth

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionCookie names the browser session. Its value keys the session
	// store and the per-session screen.
	SessionCookie = "rb_session"
	returnCookie  = "rb_return"

	sessionMaxAge = 30 * 24 * time.Hour
)

// CookieJar issues and reads the session and return-path cookies.
type CookieJar struct {
	secure bool
}

// NewCookieJar creates a jar. Secure marks cookies HTTPS-only.
func NewCookieJar(secure bool) *CookieJar {
	return &CookieJar{secure: secure}
}

// SessionID returns the session ID carried by r, if any.
func (j *CookieJar) SessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return "", false
	}
	return c.Value, true
}

// Ensure returns the session ID of r, issuing a new one when absent or
// malformed.
func (j *CookieJar) Ensure(w http.ResponseWriter, r *http.Request) string {
	if id, ok := j.SessionID(r); ok {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionMaxAge / time.Second),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// SetReturn remembers where to send the browser after sign-in.
func (j *CookieJar) SetReturn(w http.ResponseWriter, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     returnCookie,
		Value:    url.QueryEscape(SafeReturn(path)),
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TakeReturn reads and clears the return path, defaulting to "/".
func (j *CookieJar) TakeReturn(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(returnCookie)
	if err != nil {
		return "/"
	}
	http.SetCookie(w, &http.Cookie{Name: returnCookie, Value: "", Path: "/", MaxAge: -1})
	path, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "/"
	}
	return SafeReturn(path)
}

// SafeReturn keeps only site-relative paths so a return value cannot
// redirect off-site.
func SafeReturn(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.Contains(path, "\\") {
		return "/"
	}
	return path
}
