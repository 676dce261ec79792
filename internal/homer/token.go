package homer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
)

// TokenProvider hands out bearer tokens for the Homer API.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops any cached token, forcing the next Token call to
	// authenticate again.
	Invalidate()
}

const (
	tokenKey = "homer"

	// Tokens are renewed this long before their exp claim.
	refreshBefore = 60 * time.Second

	// Lifetime assumed for tokens whose expiry cannot be read.
	fallbackTTL = time.Hour
)

// SessionTokens logs in with username and password and caches the JWT until
// shortly before it expires.
type SessionTokens struct {
	http     *resty.Client
	username string
	password string

	mu    sync.Mutex
	cache *gocache.Cache
	now   func() time.Time
}

// NewSessionTokens creates a provider that authenticates through http,
// which must already carry the Homer base URL.
func NewSessionTokens(http *resty.Client, username, password string) *SessionTokens {
	return &SessionTokens{
		http:     http,
		username: username,
		password: password,
		cache:    gocache.New(gocache.NoExpiration, 10*time.Minute),
		now:      time.Now,
	}
}

func (s *SessionTokens) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	tok, err := s.login(ctx)
	if err != nil {
		return "", err
	}

	ttl := fallbackTTL
	if exp := tokenExpiry(tok); !exp.IsZero() {
		ttl = exp.Sub(s.now()) - refreshBefore
	}
	// A token already inside the refresh window is used once, not cached.
	if ttl > 0 {
		s.cache.Set(tokenKey, tok, ttl)
	}
	return tok, nil
}

func (s *SessionTokens) Invalidate() {
	s.cache.Delete(tokenKey)
}

func (s *SessionTokens) cached() (string, bool) {
	v, ok := s.cache.Get(tokenKey)
	if !ok {
		return "", false
	}
	tok, ok := v.(string)
	return tok, ok && tok != ""
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Type     string `json:"type"`
}

type loginResponse struct {
	Token string `json:"token"`
	Data  struct {
		Token string `json:"token"`
	} `json:"data"`
}

func (s *SessionTokens) login(ctx context.Context) (string, error) {
	start := time.Now()
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(loginRequest{Username: s.username, Password: s.password, Type: "internal"}).
		Post("/api/v3/auth")
	if err != nil {
		observe(opAuth, start, err)
		return "", fmt.Errorf("homer login: %w", err)
	}
	if resp.IsError() {
		err := fmt.Errorf("homer login returned HTTP %d", resp.StatusCode())
		observe(opAuth, start, err)
		return "", err
	}

	var lr loginResponse
	if err := json.Unmarshal(resp.Body(), &lr); err != nil {
		observe(opAuth, start, err)
		return "", fmt.Errorf("decoding homer login response: %w", err)
	}
	tok := lr.Token
	if tok == "" {
		tok = lr.Data.Token
	}
	if tok == "" {
		err := fmt.Errorf("homer login response carried no token")
		observe(opAuth, start, err)
		return "", err
	}
	observe(opAuth, start, nil)
	return tok, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// token is only ever sent back to the server that issued it.
func tokenExpiry(tok string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// StaticToken is a TokenProvider for a pre-issued API token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
func (t StaticToken) Invalidate()                            {}
