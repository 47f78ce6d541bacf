package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/interface/http/response"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// Context ключи для gin.Context.
const (
	ContextUserIDKey    = "userID"
	ContextRoleKey      = "role"
	ContextRequestIDKey = "requestID"
)

// AuthMiddleware проверяет JWT access токен из заголовка Authorization.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return authenticate(tokens, false)
}

// QueryTokenAuth то же самое, но допускает ?token= для WebSocket: браузер не умеет слать заголовки при апгрейде.
func QueryTokenAuth(tokens *service.TokenManager) gin.HandlerFunc {
	return authenticate(tokens, true)
}

func authenticate(tokens *service.TokenManager, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimPrefix(auth, "Bearer ")
		} else if allowQuery {
			raw = c.Query("token")
		}
		if raw == "" {
			response.Unauthorized(c, "требуется авторизация")
			return
		}

		userID, role, err := tokens.ParseAccess(raw)
		if err != nil || userID == uuid.Nil {
			response.Unauthorized(c, "токен невалиден")
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextRoleKey, role)
		c.Next()
	}
}

// RequireRole пропускает только пользователей с одной из ролей.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRoleKey)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "недостаточно прав")
	}
}
