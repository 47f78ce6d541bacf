package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	BidStatusPending  = "pending"
	BidStatusAccepted = "accepted"
	BidStatusRejected = "rejected"
)

// ServiceTier строка тарифной таблицы услуги.
type ServiceTier struct {
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	DeliveryDays int    `json:"delivery_days"`
	Revisions    int    `json:"revisions"`
}

// ServiceTiers хранится в JSONB.
type ServiceTiers []ServiceTier

func (t ServiceTiers) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

func (t *ServiceTiers) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return errors.New("service tiers: unsupported scan type")
	}
}

// Find ищет тариф по имени.
func (t ServiceTiers) Find(name string) (ServiceTier, bool) {
	for _, tier := range t {
		if tier.Name == name {
			return tier, true
		}
	}
	return ServiceTier{}, false
}

// Service услуга продавца. Управляется каталогом, здесь только читается.
type Service struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	SellerID  uuid.UUID    `db:"seller_id" json:"seller_id"`
	Title     string       `db:"title" json:"title"`
	Tiers     ServiceTiers `db:"tiers" json:"tiers"`
	IsActive  bool         `db:"is_active" json:"is_active"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

type Project struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OwnerID   uuid.UUID `db:"owner_id" json:"owner_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Bid ставка продавца на проект.
type Bid struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ProjectID    uuid.UUID `db:"project_id" json:"project_id"`
	SellerID     uuid.UUID `db:"seller_id" json:"seller_id"`
	Amount       int64     `db:"amount" json:"amount"`
	DeliveryDays int       `db:"delivery_days" json:"delivery_days"`
	Revisions    int       `db:"revisions" json:"revisions"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
