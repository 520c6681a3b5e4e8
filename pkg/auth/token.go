// Package auth hands bearer tokens to the outbound paths that need them.
// Tokens are acquired elsewhere; this package only carries and sanity checks them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no auth token")
	ErrTokenExpired = errors.New("auth token expired")
)

// TokenSource supplies the current bearer token
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource always returns the same token
type StaticTokenSource struct {
	mu    sync.RWMutex
	token string
}

// NewStaticTokenSource creates a token source for a fixed token
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the stored token, or ErrNoToken if it is empty
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// SetToken replaces the stored token
func (s *StaticTokenSource) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// TokenFunc adapts a function to TokenSource
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// CheckToken rejects a JWT whose exp claim is in the past. The signature is
// not verified; the server does that. Tokens that are not JWTs pass through.
func CheckToken(token string, now time.Time) error {
	if token == "" {
		return ErrNoToken
	}
	if strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("malformed token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("malformed exp claim: %w", err)
	}
	if exp != nil && !now.Before(exp.Time) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

// ValidToken fetches a token from src and checks it
func ValidToken(ctx context.Context, src TokenSource) (string, error) {
	if src == nil {
		return "", ErrNoToken
	}
	token, err := src.Token(ctx)
	if err != nil {
		return "", err
	}
	if err := CheckToken(token, time.Now()); err != nil {
		return "", err
	}
	return token, nil
}

// Subject returns the sub claim of a JWT without verifying it, or "" when
// the token carries none
func Subject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
