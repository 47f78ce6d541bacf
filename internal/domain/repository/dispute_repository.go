package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/models"
)

type DisputePatch struct {
	Resolution       *valueobject.Resolution
	ResolutionAmount *int64
	ResolutionNotes  *string
	ResolvedBy       *uuid.UUID
	ResolvedAt       *time.Time
}

type DisputeRepository interface {
	Create(ctx context.Context, dispute *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Dispute, error)
	Transition(ctx context.Context, id uuid.UUID, from []valueobject.DisputeStatus, to valueobject.DisputeStatus, patch DisputePatch) (*models.Dispute, error)
	AddEvidence(ctx context.Context, evidence *models.DisputeEvidence) error
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error)
}

// CatalogRepository read-only доступ к услугам, проектам и ставкам.
type CatalogRepository interface {
	GetService(ctx context.Context, id uuid.UUID) (*models.Service, error)
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	AcceptBid(ctx context.Context, id uuid.UUID) error
}
