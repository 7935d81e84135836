// Package idempotency чистит ключи идемпотентности POST /orders после истечения срока.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/metrics"
)

const (
	defaultInterval   = 10 * time.Minute
	defaultBatchSize  = 500
	defaultMaxBatches = 20
)

// Sweeper периодически удаляет истёкшие ключи пачками.
// За один проход удаляется не больше MaxBatches пачек, остаток ждёт следующего тика.
type Sweeper struct {
	keys       domain.IdempotencyRepository
	logger     *log.Entry
	metrics    *metrics.CleanupMetrics
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) { s.logger = logger }
}

func WithMetrics(m *metrics.CleanupMetrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxBatches ограничивает число пачек за проход. 0 снимает ограничение.
func WithMaxBatches(n int) Option {
	return func(s *Sweeper) {
		if n >= 0 {
			s.maxBatches = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper создаёт Sweeper поверх хранилища ключей.
func NewSweeper(keys domain.IdempotencyRepository, options ...Option) *Sweeper {
	s := &Sweeper{
		keys:       keys,
		logger:     log.WithField("component", "idempotency-sweeper"),
		interval:   defaultInterval,
		batchSize:  defaultBatchSize,
		maxBatches: defaultMaxBatches,
		now:        time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Pass описывает один проход очистки.
type Pass struct {
	Deleted int
	Batches int
	// Truncated означает, что проход упёрся в лимит пачек и истёкшие ключи ещё остались.
	Truncated bool
}

// Run выполняет проход сразу и затем по таймеру, пока ctx не отменён.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.keys == nil {
		s.logger.Warn("idempotency sweeper disabled: no key storage")
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	pass, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		s.metrics.RecordRun("error", pass.Deleted)
		s.logger.WithError(err).WithField("deleted", pass.Deleted).Warn("idempotency sweep failed")
		return
	}

	s.metrics.RecordRun("ok", pass.Deleted)
	if pass.Deleted == 0 {
		return
	}
	entry := s.logger.WithFields(log.Fields{"deleted": pass.Deleted, "batches": pass.Batches})
	if pass.Truncated {
		entry.Info("idempotency sweep hit batch limit, rest deferred")
		return
	}
	entry.Debug("idempotency sweep completed")
}

// Sweep удаляет ключи, истёкшие к текущему моменту.
func (s *Sweeper) Sweep(ctx context.Context) (Pass, error) {
	cutoff := s.now().UTC()

	var pass Pass
	for {
		if err := ctx.Err(); err != nil {
			return pass, err
		}
		if s.maxBatches > 0 && pass.Batches == s.maxBatches {
			pass.Truncated = true
			return pass, nil
		}

		n, err := s.keys.DeleteExpired(ctx, cutoff, s.batchSize)
		if err != nil {
			return pass, err
		}
		pass.Batches++
		pass.Deleted += n
		s.metrics.AddDeleted(n)

		if n < s.batchSize {
			return pass, nil
		}
	}
}
