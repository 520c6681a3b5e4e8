package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestCheckToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   string
		wantErr error
		anyErr  bool
	}{
		{"empty", "", ErrNoToken, true},
		{"opaque", "not-a-jwt", nil, false},
		{"valid", signed(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(time.Hour).Unix()}), nil, false},
		{"no exp", signed(t, jwt.MapClaims{"sub": "u1"}), nil, false},
		{"expired", signed(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()}), ErrTokenExpired, true},
		{"expires now", signed(t, jwt.MapClaims{"exp": now.Unix()}), ErrTokenExpired, true},
		{"garbage segments", "a.b.c", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckToken(tt.token, now)
			if !tt.anyErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidToken(t *testing.T) {
	ctx := context.Background()

	_, err := ValidToken(ctx, nil)
	assert.ErrorIs(t, err, ErrNoToken)

	src := NewStaticTokenSource("")
	_, err = ValidToken(ctx, src)
	assert.ErrorIs(t, err, ErrNoToken)

	src.SetToken(signed(t, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}))
	_, err = ValidToken(ctx, src)
	assert.ErrorIs(t, err, ErrTokenExpired)

	good := signed(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	src.SetToken(good)
	got, err := ValidToken(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, good, got)

	boom := errors.New("provider down")
	_, err = ValidToken(ctx, TokenFunc(func(context.Context) (string, error) { return "", boom }))
	assert.ErrorIs(t, err, boom)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "user-7", Subject(signed(t, jwt.MapClaims{"sub": "user-7"})))
	assert.Empty(t, Subject("opaque"))
	assert.Empty(t, Subject(signed(t, jwt.MapClaims{"name": "x"})))
}
