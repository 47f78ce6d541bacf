// Package validation проверяет пользовательский текст до того, как он попадёт в заказ или спор.
package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// Константы валидации
const (
	MaxMilestoneTitleLength     = 200
	MaxRequirementsLength       = 10000
	MaxDeliveryMessageLength    = 5000
	MaxAttachments              = 20
	MaxNoteLength               = 2000
	MaxDisputeCategoryLength    = 100
	MaxDisputeDescriptionLength = 5000
	MaxEvidenceTextLength       = 5000
	MaxExternalLinkLength       = 500
)

// ValidateLength проверяет длину строки в символах.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return invalid("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return invalid("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// Text обрезает пробелы и проверяет, что текст непустой и укладывается в лимит.
func Text(fieldName, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalid("%s обязателен", fieldName)
	}
	return value, ValidateLength(fieldName, value, 0, max)
}

// OptionalText как Text, но пустое значение допустимо.
func OptionalText(fieldName, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	return value, ValidateLength(fieldName, value, 0, max)
}

// ValidateExternalLink проверяет абсолютную http(s) ссылку.
func ValidateExternalLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if err := ValidateLength("ссылка", link, 1, MaxExternalLinkLength); err != nil {
		return "", err
	}

	parsedURL, err := url.ParseRequestURI(link)
	if err != nil {
		return "", invalid("некорректный формат URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", invalid("ссылка должна начинаться с http:// или https://")
	}
	if parsedURL.Host == "" {
		return "", invalid("ссылка должна содержать доменное имя")
	}
	return link, nil
}

// ValidateAttachments ограничивает число вложений к сдаче. Пустые элементы отбрасываются.
func ValidateAttachments(items []string) ([]string, error) {
	if len(items) > MaxAttachments {
		return nil, invalid("не более %d вложений", MaxAttachments)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		item, err := OptionalText("вложение", item, MaxExternalLinkLength)
		if err != nil {
			return nil, err
		}
		if item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func invalid(format string, args ...interface{}) error {
	return apperror.New(apperror.ErrCodeValidation, fmt.Sprintf(format, args...))
}
