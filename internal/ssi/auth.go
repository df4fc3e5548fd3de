// Package ssi talks to the SSI FastConnect broker: bearer auth, the REST
// metadata surface and the streaming socket, plus the demux that turns raw
// frames into typed events.
package ssi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/config"
)

const (
	authTimeout     = 15 * time.Second
	refreshMargin   = 5 * time.Minute
	accessTokenPath = "api/v2/Market/AccessToken"

	// Used when the broker token carries no readable exp claim.
	fallbackTokenTTL = 8 * time.Hour
)

// AuthService acquires and refreshes the FastConnect bearer token.
type AuthService struct {
	baseURL        string
	consumerID     string
	consumerSecret string
	client         *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time

	now func() time.Time
}

// NewAuthService builds the auth client from the SSI config section.
func NewAuthService(cfg config.SSIConfig) *AuthService {
	return &AuthService{
		baseURL:        cfg.BaseURL,
		consumerID:     cfg.ConsumerID,
		consumerSecret: cfg.ConsumerSecret,
		client:         &http.Client{Timeout: authTimeout},
		now:            time.Now,
	}
}

// Token returns a valid bearer token, re-authenticating when the cached one
// is absent or within five minutes of expiry.
func (s *AuthService) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expiry.Add(-refreshMargin)) {
		return s.token, nil
	}
	return s.authenticate(ctx)
}

type accessTokenResponse struct {
	Data struct {
		AccessToken string `json:"accessToken"`
	} `json:"data"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (s *AuthService) authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"consumerID":     s.consumerID,
		"consumerSecret": s.consumerSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+accessTokenPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth request returned %s", resp.Status)
	}

	var decoded accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if decoded.Data.AccessToken == "" {
		return "", fmt.Errorf("auth response carried no token (status=%d message=%q)", decoded.Status, decoded.Message)
	}

	s.token = decoded.Data.AccessToken
	s.expiry = s.tokenExpiry(s.token)
	log.Info().Time("expires", s.expiry).Msg("SSI authentication successful")
	return s.token, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the broker
// signs with its own key and we only need the lifetime.
func (s *AuthService) tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	log.Warn().Msg("token has no readable exp claim, assuming fallback lifetime")
	return s.now().Add(fallbackTokenTTL)
}
