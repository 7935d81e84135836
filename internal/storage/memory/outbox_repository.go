package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

type deliveryState uint8

const (
	deliveryPending deliveryState = iota
	deliveryDone
	deliveryBuried
)

type journalEntry struct {
	msg   domain.OutboxMessage
	state deliveryState
	seq   uint64
}

// OutboxRepository — in-memory журнал уведомлений для outbox worker.
type OutboxRepository struct {
	mu      sync.Mutex
	entries map[string]*journalEntry
	nextSeq uint64
	now     func() time.Time
}

// JournalOption настраивает in-memory журнал.
type JournalOption func(*OutboxRepository)

// WithClock задаёт источник времени для CreatedAt и первой попытки доставки.
func WithClock(now func() time.Time) JournalOption {
	return func(r *OutboxRepository) {
		if now != nil {
			r.now = func() time.Time { return now().UTC() }
		}
	}
}

// NewOutboxRepository создаёт пустой журнал.
func NewOutboxRepository(opts ...JournalOption) *OutboxRepository {
	r := &OutboxRepository{
		entries: make(map[string]*journalEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if existing, ok := r.entries[msg.ID]; ok {
		return cloneMessage(existing.msg), nil
	}

	now := r.now()
	msg.Attempts, msg.LastError = 0, ""
	msg.CreatedAt, msg.NextAttemptAt = now, now
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.nextSeq++
	r.entries[msg.ID] = &journalEntry{msg: msg, seq: r.nextSeq}
	return cloneMessage(msg), nil
}

func (r *OutboxRepository) Due(_ context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := r.pendingLocked(func(e *journalEntry) bool { return !e.msg.NextAttemptAt.After(now) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.OutboxMessage, 0, len(due))
	for _, e := range due {
		out = append(out, cloneMessage(e.msg))
	}
	return out, nil
}

func (r *OutboxRepository) Acknowledge(_ context.Context, id string) error {
	return r.update(id, func(e *journalEntry) {
		e.msg.Attempts++
		e.state = deliveryDone
	})
}

func (r *OutboxRepository) Retry(_ context.Context, id string, next time.Time, reason string) error {
	return r.update(id, func(e *journalEntry) {
		e.msg.Attempts++
		e.msg.LastError = reason
		e.msg.NextAttemptAt = next.UTC()
	})
}

func (r *OutboxRepository) Bury(_ context.Context, id string, reason string) error {
	return r.update(id, func(e *journalEntry) {
		e.msg.Attempts++
		e.msg.LastError = reason
		e.state = deliveryBuried
	})
}

// Stats считает все ожидающие сообщения, включая отложенные.
func (r *OutboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.pendingLocked(nil)
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].msg.CreatedAt
	}
	return stats, nil
}

// AllPending отдаёт ожидающие сообщения без учёта расписания.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.pendingLocked(nil)
	out := make([]domain.OutboxMessage, 0, len(pending))
	for _, e := range pending {
		out = append(out, cloneMessage(e.msg))
	}
	return out
}

// Buried отдаёт сообщения, снятые с доставки.
func (r *OutboxRepository) Buried() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.OutboxMessage
	for _, e := range r.entries {
		if e.state == deliveryBuried {
			out = append(out, cloneMessage(e.msg))
		}
	}
	slices.SortFunc(out, func(a, b domain.OutboxMessage) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// update меняет только ожидающее сообщение.
func (r *OutboxRepository) update(id string, apply func(*journalEntry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.state != deliveryPending {
		return domain.ErrOutboxMessageNotFound
	}
	apply(e)
	return nil
}

func (r *OutboxRepository) pendingLocked(keep func(*journalEntry) bool) []*journalEntry {
	var pending []*journalEntry
	for _, e := range r.entries {
		if e.state == deliveryPending && (keep == nil || keep(e)) {
			pending = append(pending, e)
		}
	}
	slices.SortFunc(pending, func(a, b *journalEntry) int { return cmp.Compare(a.seq, b.seq) })
	return pending
}

func cloneMessage(msg domain.OutboxMessage) domain.OutboxMessage {
	msg.Payload = append([]byte(nil), msg.Payload...)
	return msg
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
