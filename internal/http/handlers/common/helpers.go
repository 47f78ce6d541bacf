package common

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/http/middleware"
	"github.com/ignatzorin/escrow-engine/internal/interface/http/response"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

var (
	// ErrUserNotFound пользователя нет в контексте запроса
	ErrUserNotFound = errors.New("пользователь не найден в контексте")

	// ErrInvalidUUID неверный формат UUID
	ErrInvalidUUID = errors.New("неверный формат UUID")
)

// CurrentUserID extracts user ID from Gin context
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, ErrUserNotFound
	}

	userID, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUserNotFound
	}

	return userID, nil
}

// CurrentActor собирает Actor из userID и роли, положенных AuthMiddleware.
// При отсутствии пользователя сразу отвечает 401.
func CurrentActor(c *gin.Context) (service.Actor, bool) {
	userID, err := CurrentUserID(c)
	if err != nil {
		response.Error(c, apperror.ErrUnauthorized)
		return service.Actor{}, false
	}
	return service.Actor{ID: userID, Role: c.GetString(middleware.ContextRoleKey)}, true
}

// ParseUUIDParam parses UUID from URL parameter
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	param := c.Param(paramName)
	if param == "" {
		return uuid.Nil, fmt.Errorf("параметр %s отсутствует", paramName)
	}

	parsed, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}

	return parsed, nil
}

// PathUUID как ParseUUIDParam, но сам отвечает 400.
func PathUUID(c *gin.Context, paramName string) (uuid.UUID, bool) {
	id, err := ParseUUIDParam(c, paramName)
	if err != nil {
		response.BadRequest(c, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// OptionalUUID разбирает необязательный идентификатор из тела запроса.
func OptionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, ErrInvalidUUID
	}
	return &id, nil
}

// BindJSON разбирает тело и отвечает 400 при ошибке валидации.
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, "ошибка валидации запроса: "+err.Error())
		return false
	}
	return true
}

// ParseIntQuery safely reads an integer query parameter with a fallback value
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination extracts limit and offset from query parameters with defaults
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}
