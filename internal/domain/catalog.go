package domain

import "time"

const (
	// DefaultMaxQueueSize — ёмкость очереди, если кофейня её не задала.
	DefaultMaxQueueSize = 50
	// DefaultNumberOfQueues — число очередей кофейни (информационное поле).
	DefaultNumberOfQueues = 1
)

// Customer описывает клиента кофейни.
type Customer struct {
	ID           string
	Name         string
	MobileNumber string
	HomeAddress  string
	WorkAddress  string
	// LoyaltyScore растёт на 1 за каждый успешно созданный заказ.
	LoyaltyScore int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Shop описывает кофейню и ограничения её очереди.
type Shop struct {
	ID            string
	Name          string
	Address       string
	ContactNumber string
	Latitude      float64
	Longitude     float64
	// OpeningTime и ClosingTime хранятся в формате HH:MM и в расчётах не участвуют.
	OpeningTime    string
	ClosingTime    string
	MaxQueueSize   int
	NumberOfQueues int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Capacity возвращает ёмкость очереди с учётом значения по умолчанию.
func (s Shop) Capacity() int {
	if s.MaxQueueSize <= 0 {
		return DefaultMaxQueueSize
	}
	return s.MaxQueueSize
}

// MenuItem — позиция меню конкретной кофейни.
type MenuItem struct {
	ID          string
	ShopID      string
	Name        string
	Description string
	PriceMinor  int64
	Available   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
