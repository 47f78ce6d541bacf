package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/interface/http/response"
	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// ErrorHandler отвечает за ошибки, добавленные через c.Error, если хэндлер сам ничего не записал.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		response.Error(c, c.Errors.Last().Err)
	}
}

// Recovery переводит панику в 500 с единым форматом ответа.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.L().WithFields(logrus.Fields{
					"panic":      r,
					"path":       c.Request.URL.Path,
					"request_id": c.GetString(ContextRequestIDKey),
				}).Error("panic recovered")
				response.Error(c, apperror.New(apperror.ErrCodeInternal, fmt.Sprint(r)))
			}
		}()
		c.Next()
	}
}
