package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden             ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest            ErrorCode = "BAD_REQUEST"
	ErrCodeConflict              ErrorCode = "CONFLICT"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation            ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError         ErrorCode = "DATABASE_ERROR"
	ErrCodeInvalidAmount         ErrorCode = "INVALID_AMOUNT"
	ErrCodeIllegalTransition     ErrorCode = "ILLEGAL_TRANSITION"
	ErrCodeRevisionLimitExceeded ErrorCode = "REVISION_LIMIT_EXCEEDED"
	ErrCodeGatewayNotConfigured  ErrorCode = "GATEWAY_NOT_CONFIGURED"
	ErrCodeInvalidSignature      ErrorCode = "INVALID_SIGNATURE"
	ErrCodeUnknownTransaction    ErrorCode = "UNKNOWN_TRANSACTION"
	ErrCodeAlreadyResolved       ErrorCode = "ALREADY_RESOLVED"
	ErrCodeInvariant             ErrorCode = "INVARIANT_VIOLATION"
	ErrCodeGatewayUnavailable    ErrorCode = "GATEWAY_UNAVAILABLE"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с шаблонными ошибками.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// TransitionError описывает попытку недопустимого перехода состояния.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: переход %s -> %s недопустим", e.Entity, e.From, e.To)
}

// IllegalTransition возвращает ошибку перехода с текущим и запрошенным состоянием.
func IllegalTransition(entity, from, to string) *AppError {
	cause := &TransitionError{Entity: entity, From: from, To: to}
	return &AppError{
		Code:       ErrCodeIllegalTransition,
		Message:    cause.Error(),
		HTTPStatus: codeToHTTPStatus(ErrCodeIllegalTransition),
		Cause:      cause,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound, ErrCodeUnknownTransaction:
		return http.StatusNotFound
	case ErrCodeUnauthorized, ErrCodeInvalidSignature:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeInvalidAmount:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeIllegalTransition, ErrCodeRevisionLimitExceeded, ErrCodeAlreadyResolved:
		return http.StatusConflict
	case ErrCodeGatewayNotConfigured, ErrCodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или пустую строку для обычных ошибок.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return HasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

// AsTransition достаёт детали недопустимого перехода.
func AsTransition(err error) (*TransitionError, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

var (
	ErrOrderNotFound        = New(ErrCodeNotFound, "заказ не найден")
	ErrMilestoneNotFound    = New(ErrCodeNotFound, "этап не найден")
	ErrDisputeNotFound      = New(ErrCodeNotFound, "спор не найден")
	ErrTransactionNotFound  = New(ErrCodeNotFound, "транзакция не найдена")
	ErrServiceNotFound      = New(ErrCodeNotFound, "услуга не найдена")
	ErrProjectNotFound      = New(ErrCodeNotFound, "проект не найден")
	ErrBidNotFound          = New(ErrCodeNotFound, "ставка не найдена")
	ErrUnauthorized         = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden            = New(ErrCodeForbidden, "недостаточно прав")
	ErrInvalidAmount        = New(ErrCodeInvalidAmount, "сумма должна быть положительной")
	ErrRevisionLimit        = New(ErrCodeRevisionLimitExceeded, "лимит доработок исчерпан")
	ErrGatewayNotConfigured = New(ErrCodeGatewayNotConfigured, "платёжный шлюз не настроен")
	ErrInvalidSignature     = New(ErrCodeInvalidSignature, "подпись уведомления не совпадает")
	ErrUnknownTransaction   = New(ErrCodeUnknownTransaction, "транзакция по референсу не найдена")
	ErrAlreadyResolved      = New(ErrCodeAlreadyResolved, "спор уже разрешён")
)
