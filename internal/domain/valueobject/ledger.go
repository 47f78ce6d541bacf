package valueobject

import "github.com/ignatzorin/escrow-engine/internal/pkg/apperror"

type TransactionType string

const (
	TransactionTypePayment       TransactionType = "payment"
	TransactionTypeEscrowFund    TransactionType = "escrow_fund"
	TransactionTypeEscrowRelease TransactionType = "escrow_release"
	TransactionTypePayout        TransactionType = "payout"
	TransactionTypeRefund        TransactionType = "refund"
	TransactionTypeSubscription  TransactionType = "subscription"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// Provider платёжный провайдер, через который прошло движение денег.
type Provider string

const (
	ProviderGatewayA Provider = "gatewayA"
	ProviderGatewayB Provider = "gatewayB"
	ProviderManual   Provider = "manual"
)

func (p Provider) IsValid() bool {
	switch p {
	case ProviderGatewayA, ProviderGatewayB, ProviderManual:
		return true
	}
	return false
}

func NewProvider(value string) (Provider, error) {
	p := Provider(value)
	if !p.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "неизвестный платёжный провайдер")
	}
	return p, nil
}
