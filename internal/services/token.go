package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/workspace-core/internal/domain/actor"
)

const (
	tokenIssuer        = "workspace-core"
	AudienceAccess     = "api"
	AudienceRealtime   = "realtime"
	DefaultRealtimeTTL = 6 * time.Hour
)

// ErrUnauthorized wraps every token failure.
var ErrUnauthorized = errors.New("unauthorized")

type TokenClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	// TaskID marks a token minted for an agent acting on the subject's behalf.
	TaskID string `json:"task_id,omitempty"`
}

// TokenService signs and verifies HS256 tokens. Access tokens are normally
// minted by the external auth layer with the same secret; realtime tokens
// are short-lived credentials scoped to the stream endpoint.
type TokenService interface {
	IssueAccess(p Principal, ttl time.Duration) (string, time.Time, error)
	VerifyAccess(token string) (Principal, error)
	IssueRealtime(p Principal, ttl time.Duration) (string, time.Time, error)
	VerifyRealtime(token string) (Principal, error)
}

type tokenService struct {
	secret      []byte
	realtimeTTL time.Duration
	now         func() time.Time
}

func NewTokenService(secret string, realtimeTTL time.Duration) (TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if realtimeTTL <= 0 {
		realtimeTTL = DefaultRealtimeTTL
	}
	return &tokenService{secret: []byte(secret), realtimeTTL: realtimeTTL, now: time.Now}, nil
}

func (s *tokenService) IssueAccess(p Principal, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return s.issue(p, AudienceAccess, ttl)
}

func (s *tokenService) VerifyAccess(token string) (Principal, error) {
	return s.verify(token, AudienceAccess)
}

// IssueRealtime falls back to the configured TTL when ttl is not positive.
func (s *tokenService) IssueRealtime(p Principal, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.realtimeTTL
	}
	return s.issue(p, AudienceRealtime, ttl)
}

func (s *tokenService) VerifyRealtime(token string) (Principal, error) {
	return s.verify(token, AudienceRealtime)
}

func (s *tokenService) issue(p Principal, audience string, ttl time.Duration) (string, time.Time, error) {
	if p.UserID == uuid.Nil {
		return "", time.Time{}, fmt.Errorf("issue token: principal is required")
	}
	now := s.now()
	exp := now.Add(ttl)
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   p.UserID.String(),
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	if p.SessionID != uuid.Nil {
		claims.SessionID = p.SessionID.String()
	}
	if a, ok := p.Actor.(actor.Agent); ok {
		claims.TaskID = a.TaskID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *tokenService) verify(token, audience string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return Principal{}, fmt.Errorf("%w: invalid subject", ErrUnauthorized)
	}
	p := HumanPrincipal(userID)
	// Tokens without a session claim are their own session.
	for _, raw := range []string{claims.SessionID, claims.ID} {
		if sid, err := uuid.Parse(raw); err == nil && sid != uuid.Nil {
			p.SessionID = sid
			break
		}
	}
	if claims.TaskID != "" {
		taskID, err := uuid.Parse(claims.TaskID)
		if err != nil {
			return Principal{}, fmt.Errorf("%w: invalid task id", ErrUnauthorized)
		}
		p.Actor = actor.Agent{TaskID: taskID}
	}
	return p, nil
}
