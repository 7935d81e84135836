package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsGlob = "sql/migrations/*.sql"
	// migrationLockKey — ключ session-level advisory lock, общий для всех экземпляров мигратора.
	migrationLockKey  = int64(20241015)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS cqs_schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	embeddedMigrations embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationStatus описывает состояние схемы.
type MigrationStatus struct {
	// Version — номер последней применённой миграции, 0 если схема пуста.
	Version   int64
	Applied   int
	Available int
}

// Pending возвращает число ещё не применённых миграций.
func (s MigrationStatus) Pending() int {
	if s.Available < s.Applied {
		return 0
	}
	return s.Available - s.Applied
}

// Migrator применяет и откатывает SQL-миграции.
type Migrator struct {
	db     *sql.DB
	source fs.FS
	logger *log.Entry
}

// MigratorOption настраивает Migrator.
type MigratorOption func(*Migrator)

// WithMigrationSource подменяет встроенный набор миграций.
func WithMigrationSource(source fs.FS) MigratorOption {
	return func(m *Migrator) { m.source = source }
}

func WithMigratorLogger(logger *log.Entry) MigratorOption {
	return func(m *Migrator) { m.logger = logger }
}

// NewMigrator создаёт мигратор поверх db. По умолчанию используются встроенные миграции.
func NewMigrator(db *sql.DB, opts ...MigratorOption) *Migrator {
	m := &Migrator{db: db, source: embeddedMigrations}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.WithField("component", "migrator")
	}
	return m
}

// Migrator возвращает мигратор для подключения хранилища.
func (s *Store) Migrator(opts ...MigratorOption) *Migrator {
	if s == nil {
		return NewMigrator(nil, opts...)
	}
	return NewMigrator(s.db, opts...)
}

// EnsureSchema применяет все ещё не применённые миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Migrator().Up(ctx, 0)
	return err
}

// Up применяет up-миграции и возвращает число применённых.
// steps<=0 означает "все доступные".
func (m *Migrator) Up(ctx context.Context, steps int) (int, error) {
	migrations, err := loadMigrations(m.source)
	if err != nil {
		return 0, err
	}

	applied := 0
	err = m.withLock(ctx, func(conn *sql.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, mg := range migrations {
			if done[mg.Version] {
				continue
			}
			if err := m.apply(ctx, conn, mg, mg.UpSQL, recordUp); err != nil {
				return err
			}
			m.logger.WithFields(log.Fields{"version": mg.Version, "name": mg.Name}).Info("migration applied")
			applied++
			if steps > 0 && applied >= steps {
				break
			}
		}
		return nil
	})
	return applied, err
}

// Down откатывает последние steps миграций. steps<=0 откатывает одну.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	migrations, err := loadMigrations(m.source)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]migration, len(migrations))
	for _, mg := range migrations {
		byVersion[mg.Version] = mg
	}

	reverted := 0
	err = m.withLock(ctx, func(conn *sql.Conn) error {
		versions, err := latestVersions(ctx, conn, steps)
		if err != nil {
			return err
		}
		for _, version := range versions {
			mg, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("cannot rollback unknown migration version %d", version)
			}
			if err := m.apply(ctx, conn, mg, mg.DownSQL, recordDown); err != nil {
				return err
			}
			m.logger.WithFields(log.Fields{"version": mg.Version, "name": mg.Name}).Info("migration reverted")
			reverted++
		}
		return nil
	})
	return reverted, err
}

// Status возвращает текущую версию схемы и число применённых и доступных миграций.
func (m *Migrator) Status(ctx context.Context) (MigrationStatus, error) {
	if m == nil || m.db == nil {
		return MigrationStatus{}, errors.New("postgres store is not initialized")
	}
	migrations, err := loadMigrations(m.source)
	if err != nil {
		return MigrationStatus{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := m.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return MigrationStatus{}, fmt.Errorf("ensure migration table: %w", err)
	}

	status := MigrationStatus{Available: len(migrations)}
	if err := m.db.QueryRowContext(queryCtx, `
		SELECT COALESCE(MAX(version), 0), COUNT(*)
		FROM cqs_schema_migrations
	`).Scan(&status.Version, &status.Applied); err != nil {
		return MigrationStatus{}, fmt.Errorf("query migration status: %w", err)
	}
	return status, nil
}

// withLock выполняет fn на выделенном соединении под advisory lock мигратора.
func (m *Migrator) withLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if m == nil || m.db == nil {
		return errors.New("postgres store is not initialized")
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			m.logger.WithError(err).Warn("failed to release migration lock")
		}
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

type recordFunc func(ctx context.Context, tx *sql.Tx, mg migration) error

func recordUp(ctx context.Context, tx *sql.Tx, mg migration) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cqs_schema_migrations (version, name, applied_at)
		VALUES ($1, $2, $3)
	`, mg.Version, mg.Name, time.Now().UTC())
	return err
}

func recordDown(ctx context.Context, tx *sql.Tx, mg migration) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cqs_schema_migrations WHERE version = $1`, mg.Version)
	return err
}

// apply выполняет тело миграции и запись о ней в одной транзакции.
func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, mg migration, body string, record recordFunc) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %d: %w", mg.Version, err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %d_%s: %w", mg.Version, mg.Name, err)
	}
	if err := record(ctx, tx, mg); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d_%s: %w", mg.Version, mg.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d_%s: %w", mg.Version, mg.Name, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM cqs_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		result[version] = true
	}
	return result, rows.Err()
}

func latestVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT version
		FROM cqs_schema_migrations
		ORDER BY version DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan latest migration version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// loadMigrations собирает пары up/down из fsys и сортирует их по версии.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	if fsys == nil {
		return nil, errors.New("migration source is not set")
	}
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		matches := migrationFilePattern.FindStringSubmatch(base)
		if len(matches) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		if version <= 0 {
			return nil, fmt.Errorf("migration version must be positive: %s", base)
		}
		name, direction := matches[2], matches[3]

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		mg, ok := byVersion[version]
		if !ok {
			mg = &migration{Version: version, Name: name}
			byVersion[version] = mg
		} else if mg.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, mg.Name, name)
		}

		target := &mg.UpSQL
		if direction == "down" {
			target = &mg.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	result := make([]migration, 0, len(byVersion))
	for _, mg := range byVersion {
		if mg.UpSQL == "" || mg.DownSQL == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", mg.Version, mg.Name)
		}
		result = append(result, *mg)
	}
	slices.SortFunc(result, func(a, b migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		default:
			return 0
		}
	})
	return result, nil
}
