package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

type customerRepository struct {
	g guard
	t tables
}

func (r *customerRepository) FindByID(_ context.Context, id string) (domain.Customer, error) {
	var (
		customer domain.Customer
		ok       bool
	)
	r.g.read(func() { customer, ok = r.t.customer(id) })
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func (r *customerRepository) Save(_ context.Context, customer domain.Customer) error {
	now := time.Now().UTC()
	r.g.write(func() {
		if existing, ok := r.t.customer(customer.ID); ok {
			customer.CreatedAt = existing.CreatedAt
		} else if customer.CreatedAt.IsZero() {
			customer.CreatedAt = now
		}
		customer.UpdatedAt = now
		r.t.putCustomer(customer)
	})
	return nil
}

// IncrementLoyalty увеличивает счётчик лояльности под записью блокировкой.
func (r *customerRepository) IncrementLoyalty(_ context.Context, id string) error {
	var found bool
	r.g.write(func() {
		customer, ok := r.t.customer(id)
		if !ok {
			return
		}
		found = true
		customer.LoyaltyScore++
		customer.UpdatedAt = time.Now().UTC()
		r.t.putCustomer(customer)
	})
	if !found {
		return domain.ErrCustomerNotFound
	}
	return nil
}

type shopRepository struct {
	g guard
	t tables
}

func (r *shopRepository) FindByID(_ context.Context, id string) (domain.Shop, error) {
	var (
		shop domain.Shop
		ok   bool
	)
	r.g.read(func() { shop, ok = r.t.shop(id) })
	if !ok {
		return domain.Shop{}, domain.ErrShopNotFound
	}
	return shop, nil
}

func (r *shopRepository) Save(_ context.Context, shop domain.Shop) error {
	now := time.Now().UTC()
	r.g.write(func() {
		if existing, ok := r.t.shop(shop.ID); ok {
			shop.CreatedAt = existing.CreatedAt
		} else if shop.CreatedAt.IsZero() {
			shop.CreatedAt = now
		}
		shop.UpdatedAt = now
		r.t.putShop(shop)
	})
	return nil
}

type menuItemRepository struct {
	g guard
	t tables
}

func (r *menuItemRepository) FindByID(_ context.Context, id string) (domain.MenuItem, error) {
	var (
		item domain.MenuItem
		ok   bool
	)
	r.g.read(func() { item, ok = r.t.menuItem(id) })
	if !ok {
		return domain.MenuItem{}, domain.ErrMenuItemNotFound
	}
	return item, nil
}

func (r *menuItemRepository) Save(_ context.Context, item domain.MenuItem) error {
	now := time.Now().UTC()
	r.g.write(func() {
		if existing, ok := r.t.menuItem(item.ID); ok {
			item.CreatedAt = existing.CreatedAt
		} else if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now
		r.t.putMenuItem(item)
	})
	return nil
}

var (
	_ domain.CustomerStore = (*customerRepository)(nil)
	_ domain.ShopStore     = (*shopRepository)(nil)
	_ domain.MenuItemStore = (*menuItemRepository)(nil)
)
