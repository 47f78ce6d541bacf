package ws

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-engine/internal/goroutine"
	"github.com/ignatzorin/escrow-engine/internal/logger"
)

// Notifier доставляет уведомления движка через хаб. Отправка асинхронная:
// ошибки доставки только логируются.
type Notifier struct {
	hub *Hub
}

func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

func (n *Notifier) Notify(userID uuid.UUID, kind string, payload interface{}) {
	goroutine.SafeGo(func() {
		if err := n.hub.Publish(userID, kind, payload); err != nil {
			logger.L().WithFields(logrus.Fields{
				"user_id": userID,
				"kind":    kind,
			}).WithError(err).Warn("Не удалось отправить уведомление")
		}
	})
}
