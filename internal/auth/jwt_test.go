package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
)

func TestIssueAndValidate(t *testing.T) {
	v := NewJWTValidator("secret", "space-chat")

	token, err := v.Issue(models.Identity{UserID: 42, Username: "alice"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 42, id.UserID)
	assert.Equal(t, "alice", id.Username)
}

func TestValidateRejectsExpired(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	v := NewJWTValidator("secret", "").WithClock(func() time.Time { return base })
	token, err := v.Issue(models.Identity{UserID: 1}, time.Minute)
	require.NoError(t, err)

	v.WithClock(func() time.Time { return base.Add(time.Hour) })
	_, err = v.Validate(context.Background(), token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTValidator("other", "").Issue(models.Identity{UserID: 1}, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTValidator("secret", "").Validate(context.Background(), token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	token, err := NewJWTValidator("secret", "someone-else").Issue(models.Identity{UserID: 1}, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTValidator("secret", "space-chat").Validate(context.Background(), token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestValidateRequiresExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "7"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTValidator("secret", "").Validate(context.Background(), token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestValidateRejectsNonNumericSubject(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "bob", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTValidator("secret", "").Validate(context.Background(), token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestValidateEmptyToken(t *testing.T) {
	_, err := NewJWTValidator("secret", "").Validate(context.Background(), "  ")
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}
