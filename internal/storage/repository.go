package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"budget/internal/core"
	"budget/internal/store"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

var _ store.TransactionStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection keeps the scheduler's
	// pipelines from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}

	return repo, nil
}

func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// List implements store.TransactionReader
func (r *SQLiteRepository) List(ctx context.Context, kind core.Kind) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsByKind(ctx, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s transactions: %w", kind, err)
	}

	items := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := row.toCore()
		if err != nil {
			return nil, fmt.Errorf("list %s transactions: %w", kind, err)
		}
		items = append(items, t)
	}
	return items, nil
}

// Get implements store.TransactionReader
func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("get %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction by id: %w", err)
	}
	return row.toCore()
}

// Create implements store.TransactionWriter
func (r *SQLiteRepository) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t = t.Normalize()
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	t.ID = store.NewID()
	t.CreatedAt = r.now().UTC()

	if err := r.queries.CreateTransaction(ctx, fromCore(t)); err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"kind", t.Kind,
		"title", t.Title,
		"amount_cents", t.Amount.Cents,
		"occurred_on", t.OccurredOn.String(),
		"is_recurring", t.IsRecurring)

	return t, nil
}

// Update implements store.TransactionUpdater
func (r *SQLiteRepository) Update(ctx context.Context, id string, patch core.Patch) error {
	var (
		changed int64
		err     error
	)
	if patch.Conditional() {
		changed, err = r.queries.CompareAndSetRecurring(ctx, id, *patch.ExpectRecurring, patch.IsRecurring)
	} else {
		changed, err = r.queries.SetRecurring(ctx, id, patch.IsRecurring)
	}
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", id, err)
	}
	if changed > 0 {
		return nil
	}

	exists, err := r.queries.TransactionExists(ctx, id)
	if err != nil {
		return fmt.Errorf("check transaction %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("update %s: %w", id, store.ErrNotFound)
	}
	return fmt.Errorf("update %s: %w", id, store.ErrConflict)
}

// Delete implements store.TransactionDeleter
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	deleted, err := r.queries.DeleteTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if deleted == 0 {
		return fmt.Errorf("delete %s: %w", id, store.ErrNotFound)
	}
	return nil
}
