// Package catalog загружает справочники клиентов, кофеен и меню из YAML.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

// Catalog — содержимое файла справочников.
type Catalog struct {
	Customers []Customer `yaml:"customers"`
	Shops     []Shop     `yaml:"shops"`
	MenuItems []MenuItem `yaml:"menu_items"`
}

type Customer struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	MobileNumber string `yaml:"mobile_number"`
	HomeAddress  string `yaml:"home_address"`
	WorkAddress  string `yaml:"work_address"`
	LoyaltyScore int64  `yaml:"loyalty_score"`
}

type Shop struct {
	ID             string  `yaml:"id"`
	Name           string  `yaml:"name"`
	Address        string  `yaml:"address"`
	ContactNumber  string  `yaml:"contact_number"`
	Latitude       float64 `yaml:"latitude"`
	Longitude      float64 `yaml:"longitude"`
	OpeningTime    string  `yaml:"opening_time"`
	ClosingTime    string  `yaml:"closing_time"`
	MaxQueueSize   int     `yaml:"max_queue_size"`
	NumberOfQueues int     `yaml:"number_of_queues"`
}

type MenuItem struct {
	ID          string `yaml:"id"`
	ShopID      string `yaml:"shop_id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// PriceMinor — цена в минимальных денежных единицах (центах).
	PriceMinor int64 `yaml:"price_minor"`
	// Available по умолчанию true.
	Available *bool `yaml:"available"`
}

// LoadFile читает и проверяет файл справочников.
func LoadFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load разбирает YAML и проверяет ссылки между записями.
func Load(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate проверяет уникальность идентификаторов, ёмкость очередей, цены
// и то, что позиции меню ссылаются на известные кофейни.
func (c Catalog) Validate() error {
	var errs []error

	customers := make(map[string]struct{}, len(c.Customers))
	for i, cu := range c.Customers {
		if cu.ID == "" {
			errs = append(errs, fmt.Errorf("customers[%d]: id is required", i))
			continue
		}
		if _, dup := customers[cu.ID]; dup {
			errs = append(errs, fmt.Errorf("customers[%d]: duplicate id %q", i, cu.ID))
		}
		customers[cu.ID] = struct{}{}
	}

	shops := make(map[string]struct{}, len(c.Shops))
	for i, s := range c.Shops {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("shops[%d]: id is required", i))
			continue
		}
		if _, dup := shops[s.ID]; dup {
			errs = append(errs, fmt.Errorf("shops[%d]: duplicate id %q", i, s.ID))
		}
		if s.MaxQueueSize < 0 {
			errs = append(errs, fmt.Errorf("shops[%d]: max_queue_size must not be negative", i))
		}
		shops[s.ID] = struct{}{}
	}

	items := make(map[string]struct{}, len(c.MenuItems))
	for i, m := range c.MenuItems {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("menu_items[%d]: id is required", i))
			continue
		}
		if _, dup := items[m.ID]; dup {
			errs = append(errs, fmt.Errorf("menu_items[%d]: duplicate id %q", i, m.ID))
		}
		items[m.ID] = struct{}{}
		if _, ok := shops[m.ShopID]; !ok {
			errs = append(errs, fmt.Errorf("menu_items[%d]: unknown shop %q", i, m.ShopID))
		}
		if m.PriceMinor < 0 {
			errs = append(errs, fmt.Errorf("menu_items[%d]: price_minor must be non-negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}
	return nil
}

// Seed записывает справочники в хранилище одной транзакцией.
// Существующие записи с теми же ID перезаписываются.
func Seed(ctx context.Context, tx domain.TxManager, c Catalog) error {
	now := time.Now().UTC()
	return tx.InTx(ctx, func(repos domain.Repositories) error {
		for _, cu := range c.Customers {
			if err := repos.Customers.Save(ctx, cu.toDomain(now)); err != nil {
				return fmt.Errorf("seed customer %s: %w", cu.ID, err)
			}
		}
		for _, s := range c.Shops {
			if err := repos.Shops.Save(ctx, s.toDomain(now)); err != nil {
				return fmt.Errorf("seed shop %s: %w", s.ID, err)
			}
		}
		for _, m := range c.MenuItems {
			if err := repos.MenuItems.Save(ctx, m.toDomain(now)); err != nil {
				return fmt.Errorf("seed menu item %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

func (c Customer) toDomain(now time.Time) domain.Customer {
	return domain.Customer{
		ID:           c.ID,
		Name:         c.Name,
		MobileNumber: c.MobileNumber,
		HomeAddress:  c.HomeAddress,
		WorkAddress:  c.WorkAddress,
		LoyaltyScore: c.LoyaltyScore,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s Shop) toDomain(now time.Time) domain.Shop {
	queues := s.NumberOfQueues
	if queues <= 0 {
		queues = domain.DefaultNumberOfQueues
	}
	return domain.Shop{
		ID:             s.ID,
		Name:           s.Name,
		Address:        s.Address,
		ContactNumber:  s.ContactNumber,
		Latitude:       s.Latitude,
		Longitude:      s.Longitude,
		OpeningTime:    s.OpeningTime,
		ClosingTime:    s.ClosingTime,
		MaxQueueSize:   s.MaxQueueSize,
		NumberOfQueues: queues,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (m MenuItem) toDomain(now time.Time) domain.MenuItem {
	available := true
	if m.Available != nil {
		available = *m.Available
	}
	return domain.MenuItem{
		ID:          m.ID,
		ShopID:      m.ShopID,
		Name:        m.Name,
		Description: m.Description,
		PriceMinor:  m.PriceMinor,
		Available:   available,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
