package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/workspace-core/internal/pkg/httpx"
)

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// HTTPTokenSource exchanges an API access token for a realtime token at
// POST /api/realtime/token.
type HTTPTokenSource struct {
	BaseURL     string
	AccessToken func() string
	HTTPClient  *http.Client
}

func (s HTTPTokenSource) Token(ctx context.Context) (string, error) {
	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.BaseURL, "/")+"/api/realtime/token", nil)
	if err != nil {
		return "", err
	}
	if s.AccessToken != nil {
		req.Header.Set("Authorization", "Bearer "+s.AccessToken())
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", httpx.NewStatusError("issue realtime token", resp, 0)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode realtime token: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("issue realtime token: empty token")
	}
	return out.Token, nil
}
