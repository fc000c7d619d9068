package session

import (
	"net/http"
	"time"

	"github.com/thejerf/abtime"
)

const DefaultCookieName = "uni-session"

// Transport binds sealed tokens to the session cookie.
type Transport struct {
	Name   string
	TTL    time.Duration
	Secure bool
	Clock  abtime.AbstractTime
}

func NewTransport(name string, ttl time.Duration, secure bool, clock abtime.AbstractTime) *Transport {
	if name == "" {
		name = DefaultCookieName
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &Transport{Name: name, TTL: ttl, Secure: secure, Clock: clock}
}

func (t *Transport) Attach(w http.ResponseWriter, token string) {
	http.SetCookie(w, t.cookie(token, t.Clock.Now().Add(t.TTL), int(t.TTL/time.Second)))
}

func (t *Transport) Read(r *http.Request) (string, bool) {
	c, err := r.Cookie(t.Name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (t *Transport) Clear(w http.ResponseWriter) {
	http.SetCookie(w, t.cookie("", time.Unix(0, 0), -1))
}

func (t *Transport) cookie(value string, expires time.Time, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     t.Name,
		Value:    value,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
