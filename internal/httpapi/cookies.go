package httpapi

import (
	"net/http"
	"time"

	"udstportal/portal-service/internal/models"

	"github.com/gorilla/securecookie"
)

const sessionCookieName = "portal_session"

// SessionCookies signs (and, given a block key, encrypts) the session key
// carried in the portal_session cookie.
type SessionCookies struct {
	codec  *securecookie.SecureCookie
	secure bool
}

func NewSessionCookies(hashKey, blockKey []byte, secure bool) *SessionCookies {
	if len(blockKey) == 0 {
		blockKey = nil
	}
	return &SessionCookies{codec: securecookie.New(hashKey, blockKey), secure: secure}
}

func (c *SessionCookies) Write(w http.ResponseWriter, session models.Session) error {
	encoded, err := c.codec.Encode(sessionCookieName, session.Key)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read returns the session key from the request cookie, or "" when the
// cookie is missing or fails verification.
func (c *SessionCookies) Read(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	var key string
	if err := c.codec.Decode(sessionCookieName, cookie.Value, &key); err != nil {
		return ""
	}
	return key
}

func (c *SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
