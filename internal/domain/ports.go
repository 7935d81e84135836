package domain

import (
	"context"
	"time"
)

// CustomerStore хранит клиентов.
type CustomerStore interface {
	// FindByID возвращает клиента или ErrCustomerNotFound.
	FindByID(ctx context.Context, id string) (Customer, error)
	// Save создаёт или обновляет клиента.
	Save(ctx context.Context, customer Customer) error
	// IncrementLoyalty атомарно увеличивает LoyaltyScore на 1.
	IncrementLoyalty(ctx context.Context, id string) error
}

// ShopStore хранит кофейни.
type ShopStore interface {
	FindByID(ctx context.Context, id string) (Shop, error)
	Save(ctx context.Context, shop Shop) error
}

// MenuItemStore хранит позиции меню.
type MenuItemStore interface {
	FindByID(ctx context.Context, id string) (MenuItem, error)
	Save(ctx context.Context, item MenuItem) error
}

// OrderStore описывает требования к хранилищу заказов.
type OrderStore interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderVersionConflict, если ID уже занят.
	Create(ctx context.Context, order Order) error
	// FindByID возвращает заказ или ErrOrderNotFound.
	FindByID(ctx context.Context, id string) (Order, error)
	// FindByIDAndCustomer возвращает заказ, только если он принадлежит клиенту.
	FindByIDAndCustomer(ctx context.Context, id, customerID string) (Order, error)
	// FindByIDAndShop возвращает заказ, только если он принадлежит кофейне.
	FindByIDAndShop(ctx context.Context, id, shopID string) (Order, error)
	// CountActive считает заказы кофейни в статусах PENDING, CONFIRMED, PROCESSING.
	CountActive(ctx context.Context, shopID string) (int, error)
	// FindActiveOrderedByCreation возвращает активные заказы по (CreatedAt, ID).
	FindActiveOrderedByCreation(ctx context.Context, shopID string) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	// SaveAll сохраняет заказы одной операцией: либо все, либо ни одного.
	SaveAll(ctx context.Context, orders []Order) error
	// ListByCustomer возвращает заказы клиента от новых к старым, limit<=0 без ограничения.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// LockQueue сериализует изменения очереди кофейни в пределах транзакции.
	LockQueue(ctx context.Context, shopID string) error
}

// Repositories — набор хранилищ, привязанных к одной транзакции.
type Repositories struct {
	Customers CustomerStore
	Shops     ShopStore
	MenuItems MenuItemStore
	Orders    OrderStore
}

// TxManager выполняет fn атомарно: все записи fn фиксируются вместе или не фиксируются вовсе.
// Внутри fn следует обращаться к хранилищу только через переданные repos.
type TxManager interface {
	InTx(ctx context.Context, fn func(repos Repositories) error) error
}

// NotificationGateway отправляет уведомления клиентам. Вызовы не блокируют вызывающего.
type NotificationGateway interface {
	NotifyConfirmation(order Order)
	NotifyCancellation(order Order)
	NotifyQueueUpdate(order Order)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; повторная публикация того же события допустима.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository — журнал уведомлений, ожидающих публикации в брокер.
// Повторы планируются в самом журнале: неудачная попытка сдвигает NextAttemptAt.
type OutboxRepository interface {
	// Enqueue ставит сообщение в журнал. Повторный ID не создаёт дубликат.
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// Due возвращает до limit ожидающих сообщений с NextAttemptAt <= now в порядке постановки.
	Due(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)
	Acknowledge(ctx context.Context, id string) error
	// Retry фиксирует неудачную попытку и откладывает следующую до next.
	Retry(ctx context.Context, id string, next time.Time, reason string) error
	// Bury снимает сообщение с доставки после последней неудачной попытки.
	Bury(ctx context.Context, id string, reason string) error
	Stats(ctx context.Context) (OutboxStats, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ключи идемпотентности создания заказов.
type IdempotencyRepository interface {
	// Reserve занимает ключ до now+ttl. Истёкшая запись с тем же ключом заменяется.
	// Для живой записи возвращает её вместе с ErrIdempotencyKeyInUse или ErrIdempotencyKeyReused.
	Reserve(ctx context.Context, key, requestHash string, now time.Time, ttl time.Duration) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Finish сохраняет ответ; state должен быть финальным.
	Finish(ctx context.Context, key string, state RequestState, resp StoredResponse) error
	// Release снимает незавершённую запись, чтобы клиент мог повторить запрос с тем же ключом.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte

	// Поля ниже ведёт хранилище.
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
