package valueobject

import (
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

const minorUnitExp = 2

// FormatMinorUnits переводит центы в десятичную строку провайдера: 51500 -> "515.00".
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, -minorUnitExp).StringFixed(minorUnitExp)
}

// ParseMajorUnits разбирает десятичную строку провайдера в центы.
// Суммы с точностью больше копейки отклоняются.
func ParseMajorUnits(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректная сумма")
	}
	minor := d.Shift(minorUnitExp)
	if !minor.IsInteger() {
		return 0, apperror.New(apperror.ErrCodeValidation, "сумма точнее минорной единицы")
	}
	return minor.IntPart(), nil
}
