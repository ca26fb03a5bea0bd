package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"go.opentelemetry.io/otel/codes"
)

const (
	RansuCookie = "ransu"
	McodeCookie = "mcode"
)

var ErrMissingToken = errors.New("session token missing after login")

// MissingTokenError is fatal for a run, the bot does not log in again
// mid-flight.
type MissingTokenError struct {
	Cookie string
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("%s: cookie %q was not set", ErrMissingToken, e.Cookie)
}

func (e *MissingTokenError) Unwrap() error {
	return ErrMissingToken
}

// CookieSource is the browser layer, as far as sessions are concerned.
type CookieSource interface {
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}

// Context is the per-run authentication state. it is built once after login
// and shared read-only by every component, all accessors return copies.
type Context struct {
	ransu   string
	mcode   string
	headers map[string]string
	base    map[string]any
	cookies []*http.Cookie
}

// FromCookies builds a session out of the browser's cookies. `headers` and
// `base` are the static request headers and body fields from the catalog.
func FromCookies(cookies []*http.Cookie, headers map[string]string, base map[string]any) (*Context, error) {
	s := &Context{
		headers: maps.Clone(headers),
		base:    maps.Clone(base),
	}
	for _, c := range cookies {
		copied := *c
		s.cookies = append(s.cookies, &copied)

		switch c.Name {
		case RansuCookie:
			s.ransu = c.Value
		case McodeCookie:
			s.mcode = c.Value
		}
	}

	if s.mcode == "" {
		return nil, &MissingTokenError{Cookie: McodeCookie}
	}
	if s.ransu == "" {
		slog.Warn("ransu cookie is missing, api calls will likely be rejected")
	}
	return s, nil
}

// Load reads the cookies out of the browser and builds the session.
func Load(ctx context.Context, source CookieSource, headers map[string]string, base map[string]any) (*Context, error) {
	ctx, span := tracer.Start(ctx, "Load")
	defer span.End()

	cookies, err := source.Cookies(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read browser cookies")
		return nil, err
	}
	s, err := FromCookies(cookies, headers, base)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session token missing")
		return nil, err
	}

	slog.InfoContext(ctx, "session loaded", "cookies", len(cookies), "has_ransu", s.ransu != "")
	return s, nil
}

func (s *Context) Ransu() string {
	return s.ransu
}

func (s *Context) Mcode() string {
	return s.mcode
}

func (s *Context) Headers() map[string]string {
	return maps.Clone(s.headers)
}

func (s *Context) BaseRequestData() map[string]any {
	return maps.Clone(s.base)
}

func (s *Context) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, len(s.cookies))
	for i, c := range s.cookies {
		copied := *c
		out[i] = &copied
	}
	return out
}

// Jar returns a cookie jar that carries the browser's cookies to the api
// hosts in `urls`. cookies keep their own domain, the urls only decide which
// hosts the jar is asked about.
func (s *Context) Jar(urls ...string) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		scoped := make([]*http.Cookie, 0, len(s.cookies))
		for _, c := range s.Cookies() {
			// the jar rejects cookies whose domain does not cover the url
			if c.Domain != "" && !domainMatches(u.Hostname(), c.Domain) {
				continue
			}
			scoped = append(scoped, c)
		}
		jar.SetCookies(u, scoped)
	}
	return jar, nil
}
