// Package auth validates the bearer tokens presented by clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
)

// Validator turns a bearer token into the caller's identity.
type Validator interface {
	Validate(ctx context.Context, token string) (models.Identity, error)
}

// Claims is the token payload. The subject is the numeric user id.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator checks HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTValidator constructs a JWTValidator. An empty issuer disables the issuer check.
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (v *JWTValidator) WithClock(now func() time.Time) *JWTValidator {
	v.now = now
	return v
}

// Validate parses token and returns the identity it carries. Every failure wraps
// apperrors.ErrUnauthenticated.
func (v *JWTValidator) Validate(ctx context.Context, token string) (models.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Identity{}, fmt.Errorf("%w: missing token", apperrors.ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", apperrors.ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return models.Identity{}, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthenticated)
	}

	userID, err := strconv.Atoi(claims.Subject)
	if err != nil || userID <= 0 {
		return models.Identity{}, fmt.Errorf("%w: subject is not a user id", apperrors.ErrUnauthenticated)
	}
	return models.Identity{UserID: userID, Username: claims.Username}, nil
}

// Issue signs a token for id that expires after ttl.
func (v *JWTValidator) Issue(id models.Identity, ttl time.Duration) (string, error) {
	if id.UserID <= 0 {
		return "", errors.New("user id must be positive")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	now := v.now()
	claims := Claims{
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(id.UserID),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
