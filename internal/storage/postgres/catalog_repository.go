package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

type customerRepository struct {
	q querier
}

func (r *customerRepository) FindByID(ctx context.Context, id string) (domain.Customer, error) {
	var c domain.Customer
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, mobile_number, home_address, work_address, loyalty_score, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.MobileNumber, &c.HomeAddress, &c.WorkAddress,
		&c.LoyaltyScore, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return c, nil
}

// Save создаёт клиента или обновляет его профиль. LoyaltyScore меняется только через IncrementLoyalty.
func (r *customerRepository) Save(ctx context.Context, c domain.Customer) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO customers (
			id, name, mobile_number, home_address, work_address, loyalty_score, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    mobile_number = EXCLUDED.mobile_number,
		    home_address = EXCLUDED.home_address,
		    work_address = EXCLUDED.work_address,
		    updated_at = EXCLUDED.updated_at
	`,
		c.ID, c.Name, c.MobileNumber, c.HomeAddress, c.WorkAddress,
		c.LoyaltyScore, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

func (r *customerRepository) IncrementLoyalty(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE customers
		SET loyalty_score = loyalty_score + 1,
		    updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment loyalty: %w", err)
	}
	return expectOneRow(res, domain.ErrCustomerNotFound)
}

type shopRepository struct {
	q querier
}

func (r *shopRepository) FindByID(ctx context.Context, id string) (domain.Shop, error) {
	var s domain.Shop
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, address, contact_number, latitude, longitude,
		       opening_time, closing_time, max_queue_size, number_of_queues, created_at, updated_at
		FROM shops
		WHERE id = $1
	`, id).Scan(
		&s.ID, &s.Name, &s.Address, &s.ContactNumber, &s.Latitude, &s.Longitude,
		&s.OpeningTime, &s.ClosingTime, &s.MaxQueueSize, &s.NumberOfQueues, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shop{}, domain.ErrShopNotFound
		}
		return domain.Shop{}, fmt.Errorf("select shop: %w", err)
	}
	return s, nil
}

func (r *shopRepository) Save(ctx context.Context, s domain.Shop) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	if s.NumberOfQueues <= 0 {
		s.NumberOfQueues = domain.DefaultNumberOfQueues
	}

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO shops (
			id, name, address, contact_number, latitude, longitude,
			opening_time, closing_time, max_queue_size, number_of_queues, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    address = EXCLUDED.address,
		    contact_number = EXCLUDED.contact_number,
		    latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    opening_time = EXCLUDED.opening_time,
		    closing_time = EXCLUDED.closing_time,
		    max_queue_size = EXCLUDED.max_queue_size,
		    number_of_queues = EXCLUDED.number_of_queues,
		    updated_at = EXCLUDED.updated_at
	`,
		s.ID, s.Name, s.Address, s.ContactNumber, s.Latitude, s.Longitude,
		s.OpeningTime, s.ClosingTime, s.MaxQueueSize, s.NumberOfQueues, s.CreatedAt, s.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert shop: %w", err)
	}
	return nil
}

type menuItemRepository struct {
	q querier
}

func (r *menuItemRepository) FindByID(ctx context.Context, id string) (domain.MenuItem, error) {
	var m domain.MenuItem
	err := r.q.QueryRowContext(ctx, `
		SELECT id, shop_id, name, description, price_minor, available, created_at, updated_at
		FROM menu_items
		WHERE id = $1
	`, id).Scan(
		&m.ID, &m.ShopID, &m.Name, &m.Description, &m.PriceMinor, &m.Available, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MenuItem{}, domain.ErrMenuItemNotFound
		}
		return domain.MenuItem{}, fmt.Errorf("select menu item: %w", err)
	}
	return m, nil
}

func (r *menuItemRepository) Save(ctx context.Context, m domain.MenuItem) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO menu_items (
			id, shop_id, name, description, price_minor, available, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE
		SET shop_id = EXCLUDED.shop_id,
		    name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    price_minor = EXCLUDED.price_minor,
		    available = EXCLUDED.available,
		    updated_at = EXCLUDED.updated_at
	`,
		m.ID, m.ShopID, m.Name, m.Description, m.PriceMinor, m.Available, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrShopNotFound
		}
		return fmt.Errorf("upsert menu item: %w", err)
	}
	return nil
}

// expectOneRow возвращает notFound, если запрос не затронул ни одной строки.
func expectOneRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var (
	_ domain.CustomerStore = (*customerRepository)(nil)
	_ domain.ShopStore     = (*shopRepository)(nil)
	_ domain.MenuItemStore = (*menuItemRepository)(nil)
)
