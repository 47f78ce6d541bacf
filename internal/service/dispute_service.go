package service

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/metrics"
	"github.com/ignatzorin/escrow-engine/internal/models"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-engine/internal/validation"
)

// EvidenceStorage сохраняет файлы доказательств и определяет их тип.
type EvidenceStorage interface {
	Save(ctx context.Context, disputeID uuid.UUID, originalName string, r io.Reader) (path string, mimeType string, err error)
}

type OpenDisputeInput struct {
	Category    string
	Description string
}

type ResolveDisputeInput struct {
	Resolution valueobject.Resolution
	Amount     *int64
	Notes      string
}

type EvidenceInput struct {
	Kind    string
	Content string
}

// DisputeService споры по заказам. Открытый спор замораживает весь заказ,
// решение администратора разрешает записи в журнал.
type DisputeService struct {
	base
	storage EvidenceStorage
}

func NewDisputeService(store repository.Store, storage EvidenceStorage, notifier Notifier, m *metrics.Collector) *DisputeService {
	return &DisputeService{base: newBase(store, notifier, m), storage: storage}
}

var inFlightMilestones = []valueobject.MilestoneStatus{
	valueobject.MilestoneStatusFunded,
	valueobject.MilestoneStatusInProgress,
	valueobject.MilestoneStatusDelivered,
}

// OpenDispute открывает спор по заказу в работе.
func (s *DisputeService) OpenDispute(ctx context.Context, actor Actor, orderID uuid.UUID, in OpenDisputeInput) (*models.Dispute, error) {
	category, err := validation.Text("категория", in.Category, validation.MaxDisputeCategoryLength)
	if err != nil {
		return nil, err
	}
	description, err := validation.Text("описание спора", in.Description, validation.MaxDisputeDescriptionLength)
	if err != nil {
		return nil, err
	}

	var dispute *models.Dispute
	ac := &afterCommit{}
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.IsParticipant(actor.ID) {
			return apperror.ErrForbidden
		}

		if _, err := s.transitionOrder(ctx, tx, ac, order, orderTransition{
			actor: actorRef(actor),
			from:  []valueobject.OrderStatus{valueobject.OrderStatusInProgress},
			to:    valueobject.OrderStatusDisputed,
		}); err != nil {
			return err
		}
		if order.Type == valueobject.OrderTypeProject {
			if _, err := moveMilestones(ctx, tx, order.ID, inFlightMilestones, valueobject.MilestoneStatusDisputed); err != nil {
				return err
			}
		}

		dispute = &models.Dispute{
			OrderID:     order.ID,
			BuyerID:     order.BuyerID,
			SellerID:    order.SellerID,
			OpenedBy:    actor.ID,
			Category:    category,
			Description: description,
			Status:      valueobject.DisputeStatusOpen,
		}
		if err := tx.Disputes().Create(ctx, dispute); err != nil {
			return err
		}
		if err := s.addHistory(ctx, tx, order.ID, actorRef(actor), models.HistoryActionDisputeOpened, nil, map[string]interface{}{
			"dispute_id": dispute.ID,
			"category":   category,
		}); err != nil {
			return err
		}

		s.notify(ac, order.Counterparty(actor.ID), models.NotificationDisputeOpened, disputePayload(dispute))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ac.run()
	return dispute, nil
}

// StartReview администратор берёт спор в работу.
func (s *DisputeService) StartReview(ctx context.Context, actor Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	return s.move(ctx, actor, disputeID,
		[]valueobject.DisputeStatus{valueobject.DisputeStatusOpen}, valueobject.DisputeStatusUnderReview, false)
}

// Escalate передаёт спор на следующий уровень. Доступно сторонам и администратору.
func (s *DisputeService) Escalate(ctx context.Context, actor Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.move(ctx, actor, disputeID,
		[]valueobject.DisputeStatus{valueobject.DisputeStatusOpen, valueobject.DisputeStatusUnderReview}, valueobject.DisputeStatusEscalated, false)
}

// Close закрывает спор без решения, заказ возвращается в работу.
func (s *DisputeService) Close(ctx context.Context, actor Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	return s.move(ctx, actor, disputeID, valueobject.ActiveDisputeStatuses, valueobject.DisputeStatusClosed, true)
}

func (s *DisputeService) move(ctx context.Context, actor Actor, disputeID uuid.UUID, from []valueobject.DisputeStatus, to valueobject.DisputeStatus, unfreeze bool) (*models.Dispute, error) {
	var result *models.Dispute
	ac := &afterCommit{}
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		dispute, err := tx.Disputes().GetByID(ctx, disputeID)
		if err != nil {
			return err
		}
		if !dispute.IsParticipant(actor.ID) && !actor.IsAdmin() {
			return apperror.ErrForbidden
		}

		result, err = tx.Disputes().Transition(ctx, dispute.ID, from, to, repository.DisputePatch{})
		if err != nil {
			return err
		}
		if err := s.addHistory(ctx, tx, dispute.OrderID, actorRef(actor), models.HistoryActionDisputeUpdated,
			map[string]interface{}{"dispute_id": dispute.ID, "status": dispute.Status},
			map[string]interface{}{"dispute_id": dispute.ID, "status": to}); err != nil {
			return err
		}

		if unfreeze {
			order, err := tx.Orders().GetByID(ctx, dispute.OrderID)
			if err != nil {
				return err
			}
			if err := s.unfreeze(ctx, tx, ac, actor, order); err != nil {
				return err
			}
		}

		payload := disputePayload(result)
		s.notify(ac, dispute.BuyerID, models.NotificationDisputeUpdated, payload)
		s.notify(ac, dispute.SellerID, models.NotificationDisputeUpdated, payload)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ac.run()
	return result, nil
}

// Resolve решение администратора. Допускается ровно один раз.
func (s *DisputeService) Resolve(ctx context.Context, actor Actor, disputeID uuid.UUID, in ResolveDisputeInput) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if !in.Resolution.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректный исход спора")
	}
	notes, err := validation.Text("комментарий к решению", in.Notes, validation.MaxNoteLength)
	if err != nil {
		return nil, err
	}
	if in.Resolution != valueobject.ResolutionRefundPartial && in.Amount != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма указывается только для частичного возврата")
	}

	var result *models.Dispute
	ac := &afterCommit{}
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		dispute, err := tx.Disputes().GetByID(ctx, disputeID)
		if err != nil {
			return err
		}
		if dispute.Status == valueobject.DisputeStatusResolved {
			return apperror.ErrAlreadyResolved
		}
		order, err := tx.Orders().GetByID(ctx, dispute.OrderID)
		if err != nil {
			return err
		}
		var milestones []models.Milestone
		if order.Type == valueobject.OrderTypeProject {
			if milestones, err = tx.Milestones().ListByOrder(ctx, order.ID); err != nil {
				return err
			}
		}
		escrowed := EscrowedAmount(order, milestones)

		if in.Resolution == valueobject.ResolutionRefundPartial {
			if in.Amount == nil || *in.Amount <= 0 || *in.Amount >= escrowed {
				return apperror.New(apperror.ErrCodeInvalidAmount, "сумма частичного возврата должна быть больше нуля и меньше удерживаемой")
			}
		}

		now := s.now()
		resolution := in.Resolution
		// решить можно из любого активного статуса, рассмотрение не обязательно
		result, err = tx.Disputes().Transition(ctx, dispute.ID, valueobject.ActiveDisputeStatuses, valueobject.DisputeStatusResolved, repository.DisputePatch{
			Resolution:       &resolution,
			ResolutionAmount: in.Amount,
			ResolutionNotes:  &notes,
			ResolvedBy:       actorRef(actor),
			ResolvedAt:       &now,
		})
		if err != nil {
			if te, ok := apperror.AsTransition(err); ok && te.From == string(valueobject.DisputeStatusResolved) {
				return apperror.ErrAlreadyResolved
			}
			return err
		}

		if err := s.applyResolution(ctx, tx, ac, actor, order, milestones, escrowed, in); err != nil {
			return err
		}
		if err := s.addHistory(ctx, tx, order.ID, actorRef(actor), models.HistoryActionDisputeUpdated,
			map[string]interface{}{"dispute_id": dispute.ID, "status": dispute.Status},
			map[string]interface{}{"dispute_id": dispute.ID, "status": valueobject.DisputeStatusResolved, "resolution": resolution}); err != nil {
			return err
		}

		payload := disputePayload(result)
		s.notify(ac, dispute.BuyerID, models.NotificationDisputeResolved, payload)
		s.notify(ac, dispute.SellerID, models.NotificationDisputeResolved, payload)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ac.run()
	return result, nil
}

// applyResolution денежные последствия решения. Частичный возврат: покупателю
// указанная сумма, остаток продавцу, заказ уходит в refunded.
func (s *DisputeService) applyResolution(ctx context.Context, tx repository.Store, ac *afterCommit, actor Actor, order *models.Order, milestones []models.Milestone, escrowed int64, in ResolveDisputeInput) error {
	disputed := []valueobject.MilestoneStatus{valueobject.MilestoneStatusDisputed}
	ref := "по спору о заказе " + order.OrderNumber

	switch in.Resolution {
	case valueobject.ResolutionRefundFull:
		if order.Type == valueobject.OrderTypeProject {
			for _, m := range milestones {
				if m.Status != valueobject.MilestoneStatusDisputed {
					continue
				}
				id := m.ID
				if _, err := s.recordMovement(ctx, tx, ac, order, &id, order.BuyerID, valueobject.TransactionTypeRefund, m.Amount, "Возврат этапа "+ref); err != nil {
					return err
				}
				if _, err := tx.Milestones().Transition(ctx, m.ID, disputed, valueobject.MilestoneStatusRefunded); err != nil {
					return err
				}
			}
		} else if escrowed > 0 {
			// покупатель получает всё, что заплатил, вместе с комиссиями, как при отмене
			if _, err := s.recordMovement(ctx, tx, ac, order, nil, order.BuyerID, valueobject.TransactionTypeRefund, order.TotalAmount, "Возврат "+ref); err != nil {
				return err
			}
		}
		return s.settleOrder(ctx, tx, ac, actor, order, valueobject.OrderStatusRefunded)

	case valueobject.ResolutionRefundPartial:
		refund := *in.Amount
		if _, err := s.recordMovement(ctx, tx, ac, order, nil, order.BuyerID, valueobject.TransactionTypeRefund, refund, "Частичный возврат "+ref); err != nil {
			return err
		}
		if _, err := s.recordMovement(ctx, tx, ac, order, nil, order.SellerID, valueobject.TransactionTypeEscrowRelease, escrowed-refund, "Остаток продавцу "+ref); err != nil {
			return err
		}
		if _, err := moveMilestones(ctx, tx, order.ID, disputed, valueobject.MilestoneStatusRefunded); err != nil {
			return err
		}
		return s.settleOrder(ctx, tx, ac, actor, order, valueobject.OrderStatusRefunded)

	case valueobject.ResolutionReleaseFunds:
		if order.Type == valueobject.OrderTypeProject {
			for _, m := range milestones {
				if m.Status != valueobject.MilestoneStatusDisputed {
					continue
				}
				id := m.ID
				if _, err := s.recordMovement(ctx, tx, ac, order, &id, order.SellerID, valueobject.TransactionTypeEscrowRelease, m.Amount, "Выплата этапа "+ref); err != nil {
					return err
				}
				if _, err := tx.Milestones().Transition(ctx, m.ID, disputed, valueobject.MilestoneStatusReleased); err != nil {
					return err
				}
			}
		} else if escrowed > 0 {
			if _, err := s.recordMovement(ctx, tx, ac, order, nil, order.SellerID, valueobject.TransactionTypeEscrowRelease, escrowed, "Выплата "+ref); err != nil {
				return err
			}
		}
		return s.settleOrder(ctx, tx, ac, actor, order, valueobject.OrderStatusCompleted)

	default:
		return s.unfreeze(ctx, tx, ac, actor, order)
	}
}

func (s *DisputeService) settleOrder(ctx context.Context, tx repository.Store, ac *afterCommit, actor Actor, order *models.Order, to valueobject.OrderStatus) error {
	_, err := s.transitionOrder(ctx, tx, ac, order, orderTransition{
		actor: actorRef(actor),
		from:  []valueobject.OrderStatus{valueobject.OrderStatusDisputed},
		to:    to,
		patch: repository.OrderPatch{Complete: to == valueobject.OrderStatusCompleted},
	})
	return err
}

// unfreeze возвращает заказ и его спорные этапы в работу.
func (s *DisputeService) unfreeze(ctx context.Context, tx repository.Store, ac *afterCommit, actor Actor, order *models.Order) error {
	if order.Type == valueobject.OrderTypeProject {
		if _, err := moveMilestones(ctx, tx, order.ID,
			[]valueobject.MilestoneStatus{valueobject.MilestoneStatusDisputed}, valueobject.MilestoneStatusInProgress); err != nil {
			return err
		}
	}
	_, err := s.transitionOrder(ctx, tx, ac, order, orderTransition{
		actor: actorRef(actor),
		from:  []valueobject.OrderStatus{valueobject.OrderStatusDisputed},
		to:    valueobject.OrderStatusInProgress,
	})
	return err
}

// AddEvidence добавляет текст или ссылку к активному спору.
func (s *DisputeService) AddEvidence(ctx context.Context, actor Actor, disputeID uuid.UUID, in EvidenceInput) (*models.DisputeEvidence, error) {
	var (
		content string
		err     error
	)
	switch in.Kind {
	case models.EvidenceKindText:
		content, err = validation.Text("доказательство", in.Content, validation.MaxEvidenceTextLength)
	case models.EvidenceKindURL:
		content, err = validation.ValidateExternalLink(in.Content)
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный тип доказательства")
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.activeDispute(ctx, actor, disputeID); err != nil {
		return nil, err
	}
	evidence := &models.DisputeEvidence{
		DisputeID:  disputeID,
		UploaderID: actor.ID,
		Kind:       in.Kind,
		Content:    content,
	}
	if err := s.store.Disputes().AddEvidence(ctx, evidence); err != nil {
		return nil, err
	}
	return evidence, nil
}

// AddEvidenceFile сохраняет загруженный файл и прикладывает его к спору.
func (s *DisputeService) AddEvidenceFile(ctx context.Context, actor Actor, disputeID uuid.UUID, fileName string, r io.Reader) (*models.DisputeEvidence, error) {
	if s.storage == nil {
		return nil, apperror.New(apperror.ErrCodeInternal, "хранилище файлов не настроено")
	}
	if _, err := s.activeDispute(ctx, actor, disputeID); err != nil {
		return nil, err
	}

	path, mimeType, err := s.storage.Save(ctx, disputeID, fileName, r)
	if err != nil {
		return nil, err
	}
	evidence := &models.DisputeEvidence{
		DisputeID:  disputeID,
		UploaderID: actor.ID,
		Kind:       models.EvidenceKindFile,
		Content:    path,
		FileName:   &fileName,
		MimeType:   &mimeType,
	}
	if err := s.store.Disputes().AddEvidence(ctx, evidence); err != nil {
		return nil, err
	}
	return evidence, nil
}

func (s *DisputeService) activeDispute(ctx context.Context, actor Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.store.Disputes().GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if !dispute.Status.IsActive() {
		return nil, apperror.IllegalTransition("dispute", string(dispute.Status), string(dispute.Status))
	}
	return dispute, nil
}

// GetDispute спор с доказательствами.
func (s *DisputeService) GetDispute(ctx context.Context, actor Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.store.Disputes().GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	evidence, err := s.store.Disputes().ListEvidence(ctx, dispute.ID)
	if err != nil {
		return nil, err
	}
	dispute.Evidence = evidence
	return dispute, nil
}

// ListOrderDisputes все споры по заказу.
func (s *DisputeService) ListOrderDisputes(ctx context.Context, actor Actor, orderID uuid.UUID) ([]models.Dispute, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	return s.store.Disputes().ListByOrder(ctx, orderID)
}

// moveMilestones переводит все этапы заказа из статусов from в to.
func moveMilestones(ctx context.Context, tx repository.Store, orderID uuid.UUID, from []valueobject.MilestoneStatus, to valueobject.MilestoneStatus) ([]models.Milestone, error) {
	milestones, err := tx.Milestones().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var moved []models.Milestone
	for _, m := range milestones {
		if !m.Status.In(from...) {
			continue
		}
		updated, err := tx.Milestones().Transition(ctx, m.ID, from, to)
		if err != nil {
			return nil, err
		}
		moved = append(moved, *updated)
	}
	return moved, nil
}

func disputePayload(d *models.Dispute) map[string]interface{} {
	return map[string]interface{}{
		"dispute_id": d.ID,
		"order_id":   d.OrderID,
		"status":     d.Status,
	}
}
