package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// PaymentFailedMessage единое сообщение для пользователя при любой ошибке провайдера.
const PaymentFailedMessage = "платёж не может быть обработан"

const internalMessage = "внутренняя ошибка сервера"

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// Error переводит ошибку сервиса в ответ. Внутренние детали наружу не уходят.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logFailure(c, err)
		abort(c, http.StatusInternalServerError, &ErrorInfo{
			Code:    string(apperror.ErrCodeInternal),
			Message: internalMessage,
		})
		return
	}

	info := &ErrorInfo{Code: string(appErr.Code), Message: appErr.Message}
	switch appErr.Code {
	case apperror.ErrCodeInvalidSignature, apperror.ErrCodeGatewayNotConfigured, apperror.ErrCodeGatewayUnavailable:
		logFailure(c, err)
		info.Message = PaymentFailedMessage
	case apperror.ErrCodeInternal, apperror.ErrCodeDatabaseError, apperror.ErrCodeInvariant:
		logFailure(c, err)
		info.Message = internalMessage
	case apperror.ErrCodeIllegalTransition:
		if te, ok := apperror.AsTransition(err); ok {
			info.Details = map[string]string{"entity": te.Entity, "from": te.From, "to": te.To}
		}
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	abort(c, status, info)
}

func BadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, &ErrorInfo{
		Code:    string(apperror.ErrCodeBadRequest),
		Message: message,
	})
}

func Unauthorized(c *gin.Context, message string) {
	abort(c, http.StatusUnauthorized, &ErrorInfo{
		Code:    string(apperror.ErrCodeUnauthorized),
		Message: message,
	})
}

func Forbidden(c *gin.Context, message string) {
	abort(c, http.StatusForbidden, &ErrorInfo{
		Code:    string(apperror.ErrCodeForbidden),
		Message: message,
	})
}

func TooManyRequests(c *gin.Context) {
	abort(c, http.StatusTooManyRequests, &ErrorInfo{
		Code:    "RATE_LIMITED",
		Message: "слишком много запросов, попробуйте позже",
	})
}

func abort(c *gin.Context, status int, info *ErrorInfo) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: info})
}

func logFailure(c *gin.Context, err error) {
	logger.L().WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
	}).Error("request failed")
}
