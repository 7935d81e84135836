package memory

import "github.com/vladislavdragonenkov/coffee-queue/internal/domain"

// tables — доступ к данным хранилища. Реализации не синхронизированы,
// блокировки обеспечивает guard репозитория.
type tables interface {
	customer(id string) (domain.Customer, bool)
	putCustomer(c domain.Customer)
	shop(id string) (domain.Shop, bool)
	putShop(s domain.Shop)
	menuItem(id string) (domain.MenuItem, bool)
	putMenuItem(m domain.MenuItem)
	order(id string) (domain.Order, bool)
	putOrder(o domain.Order)
	eachOrder(fn func(domain.Order))
}

// baseTables — зафиксированное состояние хранилища.
type baseTables struct {
	customers map[string]domain.Customer
	shops     map[string]domain.Shop
	menuItems map[string]domain.MenuItem
	orders    map[string]domain.Order
}

func newBaseTables() *baseTables {
	return &baseTables{
		customers: make(map[string]domain.Customer),
		shops:     make(map[string]domain.Shop),
		menuItems: make(map[string]domain.MenuItem),
		orders:    make(map[string]domain.Order),
	}
}

func (b *baseTables) customer(id string) (domain.Customer, bool) {
	c, ok := b.customers[id]
	return c, ok
}

func (b *baseTables) putCustomer(c domain.Customer) { b.customers[c.ID] = c }

func (b *baseTables) shop(id string) (domain.Shop, bool) {
	s, ok := b.shops[id]
	return s, ok
}

func (b *baseTables) putShop(s domain.Shop) { b.shops[s.ID] = s }

func (b *baseTables) menuItem(id string) (domain.MenuItem, bool) {
	m, ok := b.menuItems[id]
	return m, ok
}

func (b *baseTables) putMenuItem(m domain.MenuItem) { b.menuItems[m.ID] = m }

func (b *baseTables) order(id string) (domain.Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return o.Clone(), true
}

func (b *baseTables) putOrder(o domain.Order) { b.orders[o.ID] = o.Clone() }

func (b *baseTables) eachOrder(fn func(domain.Order)) {
	for _, o := range b.orders {
		fn(o.Clone())
	}
}

// txTables накапливает записи транзакции поверх базового состояния.
// Чтения видят собственные записи транзакции, база меняется только в commit.
type txTables struct {
	base      *baseTables
	customers map[string]domain.Customer
	shops     map[string]domain.Shop
	menuItems map[string]domain.MenuItem
	orders    map[string]domain.Order
}

func newTxTables(base *baseTables) *txTables {
	return &txTables{
		base:      base,
		customers: make(map[string]domain.Customer),
		shops:     make(map[string]domain.Shop),
		menuItems: make(map[string]domain.MenuItem),
		orders:    make(map[string]domain.Order),
	}
}

func (t *txTables) customer(id string) (domain.Customer, bool) {
	if c, ok := t.customers[id]; ok {
		return c, true
	}
	return t.base.customer(id)
}

func (t *txTables) putCustomer(c domain.Customer) { t.customers[c.ID] = c }

func (t *txTables) shop(id string) (domain.Shop, bool) {
	if s, ok := t.shops[id]; ok {
		return s, true
	}
	return t.base.shop(id)
}

func (t *txTables) putShop(s domain.Shop) { t.shops[s.ID] = s }

func (t *txTables) menuItem(id string) (domain.MenuItem, bool) {
	if m, ok := t.menuItems[id]; ok {
		return m, true
	}
	return t.base.menuItem(id)
}

func (t *txTables) putMenuItem(m domain.MenuItem) { t.menuItems[m.ID] = m }

func (t *txTables) order(id string) (domain.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o.Clone(), true
	}
	return t.base.order(id)
}

func (t *txTables) putOrder(o domain.Order) { t.orders[o.ID] = o.Clone() }

func (t *txTables) eachOrder(fn func(domain.Order)) {
	for id, o := range t.base.orders {
		if _, staged := t.orders[id]; staged {
			continue
		}
		fn(o.Clone())
	}
	for _, o := range t.orders {
		fn(o.Clone())
	}
}

func (t *txTables) commit() {
	for _, c := range t.customers {
		t.base.putCustomer(c)
	}
	for _, s := range t.shops {
		t.base.putShop(s)
	}
	for _, m := range t.menuItems {
		t.base.putMenuItem(m)
	}
	for _, o := range t.orders {
		t.base.putOrder(o)
	}
}

var (
	_ tables = (*baseTables)(nil)
	_ tables = (*txTables)(nil)
)
