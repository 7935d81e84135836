package ordering

import (
	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/queue"
)

// Service объединяет приём заказов и управление их жизненным циклом над общим менеджером очередей.
type Service struct {
	*Processor
	*Lifecycle
}

// NewService создаёт Processor и Lifecycle с общими зависимостями.
func NewService(tx domain.TxManager, queues *queue.Manager, options ...Option) *Service {
	if queues == nil {
		queues = queue.NewManager(tx)
	}
	return &Service{
		Processor: NewProcessor(tx, queues, options...),
		Lifecycle: NewLifecycle(tx, queues, options...),
	}
}
