package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

// guard задаёт режим блокировок для репозиториев.
type guard interface {
	read(fn func())
	write(fn func())
}

type rwGuard struct {
	mu *sync.RWMutex
}

func (g rwGuard) read(fn func()) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn()
}

func (g rwGuard) write(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}

// heldGuard используется внутри InTx, где блокировка уже захвачена.
type heldGuard struct{}

func (heldGuard) read(fn func())  { fn() }
func (heldGuard) write(fn func()) { fn() }

// Store — in-memory хранилище клиентов, кофеен, меню и заказов для локальной разработки и тестов.
type Store struct {
	mu   sync.RWMutex
	base *baseTables
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{base: newBaseTables()}
}

// Repositories возвращает репозитории вне транзакции.
func (s *Store) Repositories() domain.Repositories {
	return newRepositories(rwGuard{mu: &s.mu}, s.base)
}

// Customers возвращает хранилище клиентов.
func (s *Store) Customers() domain.CustomerStore { return s.Repositories().Customers }

// Shops возвращает хранилище кофеен.
func (s *Store) Shops() domain.ShopStore { return s.Repositories().Shops }

// MenuItems возвращает хранилище позиций меню.
func (s *Store) MenuItems() domain.MenuItemStore { return s.Repositories().MenuItems }

// Orders возвращает хранилище заказов.
func (s *Store) Orders() domain.OrderStore { return s.Repositories().Orders }

// InTx выполняет fn под эксклюзивной блокировкой хранилища.
// Записи fn видны остальным только после успешного завершения fn.
func (s *Store) InTx(ctx context.Context, fn func(repos domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTxTables(s.base)
	if err := fn(newRepositories(heldGuard{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Ping всегда успешен: in-memory хранилище доступно, пока жив процесс.
func (s *Store) Ping(context.Context) error {
	return nil
}

func newRepositories(g guard, t tables) domain.Repositories {
	return domain.Repositories{
		Customers: &customerRepository{g: g, t: t},
		Shops:     &shopRepository{g: g, t: t},
		MenuItems: &menuItemRepository{g: g, t: t},
		Orders:    &orderRepository{g: g, t: t},
	}
}

var _ domain.TxManager = (*Store)(nil)
