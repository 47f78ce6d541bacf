package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-engine/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-engine/internal/interface/http/response"
	"github.com/ignatzorin/escrow-engine/internal/service"
)

// TransactionHandler чтение журнала и обслуживание зависших платежей.
type TransactionHandler struct {
	ledger        *service.LedgerService
	pendingExpiry time.Duration
}

func NewTransactionHandler(ledger *service.LedgerService, pendingExpiry time.Duration) *TransactionHandler {
	return &TransactionHandler{ledger: ledger, pendingExpiry: pendingExpiry}
}

// ListMine GET /api/transactions
func (h *TransactionHandler) ListMine(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	limit, offset := common.GetPagination(c)
	items, err := h.ledger.ListTransactions(c.Request.Context(), actor, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// ListForOrder GET /api/orders/:id/transactions
func (h *TransactionHandler) ListForOrder(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	items, err := h.ledger.ListOrderTransactions(c.Request.Context(), actor, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// Escrow GET /api/orders/:id/escrow
func (h *TransactionHandler) Escrow(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	orderID, ok := common.PathUUID(c, "id")
	if !ok {
		return
	}

	amount, err := h.ledger.EscrowedAmount(c.Request.Context(), actor, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"order_id": orderID, "escrowed": amount})
}

// ExpirePending POST /api/admin/transactions/expire
// Необязательный older_than в формате time.ParseDuration, по умолчанию из конфигурации.
func (h *TransactionHandler) ExpirePending(c *gin.Context) {
	olderThan := h.pendingExpiry
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			response.BadRequest(c, "older_than: "+err.Error())
			return
		}
		olderThan = d
	}

	n, err := h.ledger.ExpireStalePending(c.Request.Context(), olderThan)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"expired": n})
}
