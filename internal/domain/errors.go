package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует бизнес-ошибки заказа и очереди.
type ErrorKind string

const (
	KindValidation                 ErrorKind = "VALIDATION"
	KindCustomerNotFound           ErrorKind = "CUSTOMER_NOT_FOUND"
	KindShopNotFound               ErrorKind = "SHOP_NOT_FOUND"
	KindMenuItemNotFound           ErrorKind = "MENU_ITEM_NOT_FOUND"
	KindOrderNotFound              ErrorKind = "ORDER_NOT_FOUND"
	KindMenuItemUnavailable        ErrorKind = "MENU_ITEM_UNAVAILABLE"
	KindInvalidQuantity            ErrorKind = "INVALID_QUANTITY"
	KindQueueFull                  ErrorKind = "QUEUE_FULL"
	KindInvalidStateTransition     ErrorKind = "INVALID_STATE_TRANSITION"
	KindCannotCancelCompletedOrder ErrorKind = "CANNOT_CANCEL_COMPLETED_ORDER"
)

// Error — бизнес-ошибка с типом и человекочитаемым сообщением.
// errors.Is сравнивает ошибки по Kind, поэтому sentinel-значения ниже
// совпадают с любой ошибкой того же типа.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is сопоставляет ошибки по типу.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Errorf создаёт бизнес-ошибку заданного типа.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf возвращает тип бизнес-ошибки или пустую строку для инфраструктурных ошибок.
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

var (
	// ErrValidation — некорректный запрос на границе сервиса.
	ErrValidation = &Error{Kind: KindValidation, Message: "validation failed"}
	// ErrCustomerNotFound — клиент не найден.
	ErrCustomerNotFound = &Error{Kind: KindCustomerNotFound, Message: "customer not found"}
	// ErrShopNotFound — кофейня не найдена.
	ErrShopNotFound = &Error{Kind: KindShopNotFound, Message: "shop not found"}
	// ErrMenuItemNotFound — позиция меню не найдена.
	ErrMenuItemNotFound = &Error{Kind: KindMenuItemNotFound, Message: "menu item not found"}
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = &Error{Kind: KindOrderNotFound, Message: "order not found"}
	// ErrMenuItemUnavailable — позиция меню временно недоступна.
	ErrMenuItemUnavailable = &Error{Kind: KindMenuItemUnavailable, Message: "menu item unavailable"}
	// ErrInvalidQuantity — количество позиции должно быть больше нуля.
	ErrInvalidQuantity = &Error{Kind: KindInvalidQuantity, Message: "item quantity must be greater than zero"}
	// ErrQueueFull — очередь кофейни заполнена.
	ErrQueueFull = &Error{Kind: KindQueueFull, Message: "shop queue is full"}
	// ErrInvalidStateTransition — переход статуса запрещён.
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition, Message: "invalid state transition"}
	// ErrCannotCancelCompletedOrder — заказ уже завершён или отменён.
	ErrCannotCancelCompletedOrder = &Error{Kind: KindCannotCancelCompletedOrder, Message: "cannot cancel completed order"}
)

var (
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound — сообщения нет среди ожидающих доставки.
	ErrOutboxMessageNotFound = errors.New("pending outbox message not found")
	// ErrIdempotencyKeyRequired и ErrIdempotencyRequestHashRequired — некорректный вызов репозитория.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyInUse — ключ занят тем же запросом; запись возвращается вместе с ошибкой.
	ErrIdempotencyKeyInUse = errors.New("idempotency key is in use")
	// ErrIdempotencyKeyReused — ключ занят запросом с другим телом.
	ErrIdempotencyKeyReused   = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyStateInvalid — попытка завершить запись нефинальной стадией.
	ErrIdempotencyStateInvalid = errors.New("idempotency state must be final")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
