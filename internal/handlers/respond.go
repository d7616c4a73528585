package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"space-chat/internal/apperrors"
)

func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Str("module", "handlers").Err(err).
			Str("route", c.FullPath()).Str("request_id", requestIDFromContext(c)).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": apperrors.PublicMessage(err), "code": apperrors.Code(err)})
}

// pathID parses a positive integer path parameter and answers 400 otherwise.
func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": apperrors.Code(apperrors.ErrInvalidInput)})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": apperrors.Code(apperrors.ErrInvalidInput)})
		return 0, false
	}
	return v, true
}

// bindJSON decodes the body into req. An empty body is accepted when optional is set.
func bindJSON(c *gin.Context, req any, optional bool) bool {
	err := c.ShouldBindJSON(req)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.Code(apperrors.ErrInvalidInput)})
	return false
}
