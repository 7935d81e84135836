package domain

import "time"

// RequestState — стадия обработки запроса на создание заказа с ключом идемпотентности.
type RequestState string

const (
	// RequestStateInFlight — запрос принят и ещё обрабатывается.
	RequestStateInFlight RequestState = "in_flight"
	// RequestStateAccepted — заказ поставлен в очередь, ответ сохранён.
	RequestStateAccepted RequestState = "accepted"
	// RequestStateRejected — бизнес-отказ (QUEUE_FULL, MENU_ITEM_UNAVAILABLE и т.п.), ответ сохранён.
	RequestStateRejected RequestState = "rejected"
)

// Valid проверяет, что стадия относится к поддерживаемым значениям.
func (s RequestState) Valid() bool {
	switch s {
	case RequestStateInFlight, RequestStateAccepted, RequestStateRejected:
		return true
	default:
		return false
	}
}

// Final сообщает, что обработка завершена и ответ можно повторять.
func (s RequestState) Final() bool {
	return s == RequestStateAccepted || s == RequestStateRejected
}

// StoredResponse — ответ, который получает клиент при повторе запроса.
type StoredResponse struct {
	Status int
	Body   []byte
	// OrderID пуст для отказов.
	OrderID string
}

// IdempotencyRecord связывает ключ клиента с результатом создания заказа.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	State       RequestState
	Response    StoredResponse
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired сообщает, что ключ больше не защищён и может быть занят заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Replayable сообщает, что запись содержит готовый ответ.
func (r IdempotencyRecord) Replayable() bool {
	return r.State.Final() && r.Response.Status != 0 && len(r.Response.Body) > 0
}
