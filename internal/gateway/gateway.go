// Package gateway описывает общий контракт платёжных провайдеров.
package gateway

import (
	"context"
	"net/url"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
)

// EventStatus нормализованный статус платежа из уведомления провайдера.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailed  EventStatus = "failed"
	StatusPending EventStatus = "pending"
)

// PaymentRequest параметры исходящего платежа. Amount в минорных единицах.
type PaymentRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	ItemName    string
	OrderID     uuid.UUID
	MilestoneID *uuid.UUID
	BuyerID     uuid.UUID
	BuyerEmail  string
}

// Webhook сырое входящее уведомление.
type Webhook struct {
	Form     url.Values
	SourceIP string
}

// Event проверенное уведомление, приведённое к общему виду.
type Event struct {
	Provider              valueobject.Provider
	Reference             string
	ProviderTransactionID string
	Amount                int64
	Status                EventStatus
	RawStatus             string
	Message               string
	OrderID               *uuid.UUID
	MilestoneID           *uuid.UUID
}

// Adapter контракт провайдера: построить ссылку на оплату и проверить уведомление.
type Adapter interface {
	Provider() valueobject.Provider
	Configured() bool
	Initiate(ctx context.Context, req PaymentRequest) (string, error)
	VerifyWebhook(ctx context.Context, wh Webhook) (*Event, error)
}

// Registry набор адаптеров по провайдеру.
type Registry map[valueobject.Provider]Adapter

func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Provider()] = a
	}
	return r
}

// Get возвращает настроенный адаптер или false.
func (r Registry) Get(p valueobject.Provider) (Adapter, bool) {
	a, ok := r[p]
	if !ok || a == nil || !a.Configured() {
		return nil, false
	}
	return a, true
}

// ParseOptionalUUID разбирает необязательный идентификатор из поля уведомления.
func ParseOptionalUUID(value string) *uuid.UUID {
	if value == "" {
		return nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil
	}
	return &id
}
