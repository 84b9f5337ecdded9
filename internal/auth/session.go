package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotAuthenticated = errors.New("no credentials available")
	ErrRefreshFailed    = errors.New("credential refresh failed")
)

const accessTokenKey = "access_token"

// Session holds the signed-in user's credentials. The access token lives in
// a TTL cache so it disappears on its own once it expires.
type Session struct {
	tokens   *cache.Cache
	client   *http.Client
	tokenURL string
	logger   *logrus.Logger

	mu           sync.Mutex
	refreshToken string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func NewSession(logger *logrus.Logger, tokenURL string) *Session {
	return &Session{
		tokens:   cache.New(cache.NoExpiration, time.Minute),
		client:   &http.Client{Timeout: 10 * time.Second},
		tokenURL: tokenURL,
		logger:   logger,
	}
}

// SetCredentials stores a freshly issued token pair.
func (s *Session) SetCredentials(accessToken string, expiresIn time.Duration, refreshToken string) {
	s.tokens.Set(accessTokenKey, accessToken, expiresIn)

	if refreshToken != "" {
		s.mu.Lock()
		s.refreshToken = refreshToken
		s.mu.Unlock()
	}
}

func (s *Session) SignOut() {
	s.tokens.Flush()
	s.mu.Lock()
	s.refreshToken = ""
	s.mu.Unlock()
}

func (s *Session) AccessToken() (string, bool) {
	v, found := s.tokens.Get(accessTokenKey)
	if !found {
		return "", false
	}
	token, ok := v.(string)
	return token, ok && token != ""
}

func (s *Session) IsAuthenticated() bool {
	_, ok := s.AccessToken()
	return ok
}

// RefreshCredentials exchanges the refresh token for a new access token.
func (s *Session) RefreshCredentials(ctx context.Context) error {
	s.mu.Lock()
	refreshToken := s.refreshToken
	s.mu.Unlock()

	if refreshToken == "" {
		return ErrNotAuthenticated
	}

	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusUnauthorized {
			// The refresh token was revoked; the user has to sign in again.
			s.SignOut()
		}
		return fmt.Errorf("%w: status %d: %s", ErrRefreshFailed, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("%w: invalid response: %v", ErrRefreshFailed, err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrRefreshFailed)
	}

	s.SetCredentials(token.AccessToken, time.Duration(token.ExpiresIn)*time.Second, token.RefreshToken)

	s.logger.WithField("expires_in", time.Duration(token.ExpiresIn)*time.Second).Info("Credentials refreshed")
	return nil
}
