package fetch

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// AuthSession carries credentials applied to every request: extra
// headers, cookies and an optional bearer token. A Refresh hook, when
// set, lets an expired session renew itself after a 401.
type AuthSession struct {
	mu          sync.RWMutex
	headers     map[string]string
	cookies     map[string]string
	bearerToken string
	refresh     func(ctx context.Context, s *AuthSession) error
}

// NewAuthSession builds a session. Any argument may be empty or nil.
func NewAuthSession(headers, cookies map[string]string, bearerToken string, refresh func(ctx context.Context, s *AuthSession) error) *AuthSession {
	return &AuthSession{
		headers:     cloneMap(headers),
		cookies:     cloneMap(cookies),
		bearerToken: bearerToken,
		refresh:     refresh,
	}
}

// Apply adds the session's credentials to the request.
func (s *AuthSession) Apply(req *http.Request) {
	if s == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.bearerToken)
	}

	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	if len(s.cookies) > 0 {
		req.Header.Set("Cookie", s.cookieHeader())
	}
}

// SetBearerToken replaces the bearer token, typically from a refresh
// hook.
func (s *AuthSession) SetBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bearerToken = token
}

// SetCookie sets one cookie value.
func (s *AuthSession) SetCookie(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cookies == nil {
		s.cookies = make(map[string]string)
	}

	s.cookies[name] = value
}

// CanRefresh reports whether a refresh hook is configured.
func (s *AuthSession) CanRefresh() bool {
	return s != nil && s.refresh != nil
}

// RefreshNow invokes the refresh hook.
func (s *AuthSession) RefreshNow(ctx context.Context) error {
	return s.refresh(ctx, s)
}

// cookieHeader renders cookies sorted by name for a stable header value.
// Called with the lock held.
func (s *AuthSession) cookieHeader() string {
	names := make([]string, 0, len(s.cookies))
	for name := range s.cookies {
		names = append(names, name)
	}

	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+s.cookies[name])
	}

	return strings.Join(pairs, "; ")
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))

	for k, v := range m {
		out[k] = v
	}

	return out
}
