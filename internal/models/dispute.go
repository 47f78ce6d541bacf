package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
)

const (
	EvidenceKindText = "text"
	EvidenceKindURL  = "url"
	EvidenceKindFile = "file"
)

type Dispute struct {
	ID               uuid.UUID                 `db:"id" json:"id"`
	OrderID          uuid.UUID                 `db:"order_id" json:"order_id"`
	BuyerID          uuid.UUID                 `db:"buyer_id" json:"buyer_id"`
	SellerID         uuid.UUID                 `db:"seller_id" json:"seller_id"`
	OpenedBy         uuid.UUID                 `db:"opened_by" json:"opened_by"`
	Category         string                    `db:"category" json:"category"`
	Description      string                    `db:"description" json:"description"`
	Status           valueobject.DisputeStatus `db:"status" json:"status"`
	Resolution       *valueobject.Resolution   `db:"resolution" json:"resolution,omitempty"`
	ResolutionAmount *int64                    `db:"resolution_amount" json:"resolution_amount,omitempty"`
	ResolutionNotes  *string                   `db:"resolution_notes" json:"resolution_notes,omitempty"`
	ResolvedBy       *uuid.UUID                `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time                `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt        time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time                 `db:"updated_at" json:"updated_at"`
	Evidence         []DisputeEvidence         `db:"-" json:"evidence,omitempty"`
}

func (d *Dispute) IsParticipant(userID uuid.UUID) bool {
	return d.BuyerID == userID || d.SellerID == userID
}

// DisputeEvidence доказательство по спору: текст, ссылка или загруженный файл.
type DisputeEvidence struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DisputeID  uuid.UUID `db:"dispute_id" json:"dispute_id"`
	UploaderID uuid.UUID `db:"uploader_id" json:"uploader_id"`
	Kind       string    `db:"kind" json:"kind"`
	Content    string    `db:"content" json:"content"`
	FileName   *string   `db:"file_name" json:"file_name,omitempty"`
	MimeType   *string   `db:"mime_type" json:"mime_type,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
