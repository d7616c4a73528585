package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
)

type staticValidator map[string]models.Identity

func (v staticValidator) Validate(ctx context.Context, token string) (models.Identity, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return models.Identity{}, apperrors.ErrUnauthenticated
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(staticValidator{"good": {UserID: 5, Username: "eve"}}))
	r.GET("/me", func(c *gin.Context) {
		id := Identity(c)
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt(UserIDKey), "username": id.Username})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer bad", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
		{"case insensitive scheme", "bearer good", http.StatusOK},
	}

	r := newAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"user_id":5,"username":"eve"}`, w.Body.String())
			}
		})
	}
}
