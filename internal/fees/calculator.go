// Package fees рассчитывает комиссии площадки в минорных единицах валюты.
package fees

import (
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

const (
	// DefaultBuyerBPS комиссия покупателя по умолчанию: 3%.
	DefaultBuyerBPS = 300
	// DefaultSellerBPS комиссия продавца по умолчанию: 8%.
	DefaultSellerBPS = 800

	bpsDenominator = 10000
)

// Breakdown содержит разложение суммы заказа на комиссии.
type Breakdown struct {
	Gross      int64 `json:"gross"`
	BuyerFee   int64 `json:"buyer_fee"`
	SellerFee  int64 `json:"seller_fee"`
	BuyerTotal int64 `json:"buyer_total"`
	SellerNet  int64 `json:"seller_net"`
}

// Calculator хранит ставки комиссий в базисных пунктах.
type Calculator struct {
	buyerBPS  int64
	sellerBPS int64
}

// NewCalculator создаёт калькулятор с заданными ставками.
func NewCalculator(buyerBPS, sellerBPS int64) (*Calculator, error) {
	if buyerBPS < 0 || buyerBPS >= bpsDenominator {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректная ставка комиссии покупателя")
	}
	if sellerBPS < 0 || sellerBPS >= bpsDenominator {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректная ставка комиссии продавца")
	}
	return &Calculator{buyerBPS: buyerBPS, sellerBPS: sellerBPS}, nil
}

// Default возвращает калькулятор со стандартными ставками 3% / 8%.
func Default() *Calculator {
	return &Calculator{buyerBPS: DefaultBuyerBPS, sellerBPS: DefaultSellerBPS}
}

// Calculate раскладывает валовую сумму. Каждая комиссия округляется
// независимо, половина округляется вверх.
func (c *Calculator) Calculate(gross int64) (Breakdown, error) {
	if gross <= 0 {
		return Breakdown{}, apperror.ErrInvalidAmount
	}

	buyerFee := roundHalfUp(gross, c.buyerBPS)
	sellerFee := roundHalfUp(gross, c.sellerBPS)

	return Breakdown{
		Gross:      gross,
		BuyerFee:   buyerFee,
		SellerFee:  sellerFee,
		BuyerTotal: gross + buyerFee,
		SellerNet:  gross - sellerFee,
	}, nil
}

// roundHalfUp вычисляет round(amount * bps / 10000) без плавающей точки.
func roundHalfUp(amount, bps int64) int64 {
	return (amount*bps + bpsDenominator/2) / bpsDenominator
}
