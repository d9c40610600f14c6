package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"budget/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the SQL the repository runs against the transactions table.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Transaction mirrors a row of the transactions table.
type Transaction struct {
	ID          string
	Kind        string
	Title       string
	Category    string
	Description string
	AmountCents int64
	OccurredOn  string
	IsRecurring bool
	CreatedAt   int64
}

const columns = `id, kind, title, category, description, amount_cents, occurred_on, is_recurring, created_at`

const createTransaction = `INSERT INTO transactions (` + columns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateTransaction(ctx context.Context, arg Transaction) error {
	_, err := q.db.ExecContext(ctx, createTransaction,
		arg.ID,
		arg.Kind,
		arg.Title,
		arg.Category,
		arg.Description,
		arg.AmountCents,
		arg.OccurredOn,
		arg.IsRecurring,
		arg.CreatedAt,
	)
	return err
}

const getTransaction = `SELECT ` + columns + ` FROM transactions WHERE id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row := q.db.QueryRowContext(ctx, getTransaction, id)
	var t Transaction
	err := scan(row, &t)
	return t, err
}

const listTransactionsByKind = `SELECT ` + columns + ` FROM transactions
WHERE kind = ?
ORDER BY created_at DESC, id DESC`

func (q *Queries) ListTransactionsByKind(ctx context.Context, kind string) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionsByKind, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		var t Transaction
		if err := scan(rows, &t); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const setRecurring = `UPDATE transactions SET is_recurring = ? WHERE id = ?`

func (q *Queries) SetRecurring(ctx context.Context, id string, recurring bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, setRecurring, recurring, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const compareAndSetRecurring = `UPDATE transactions SET is_recurring = ? WHERE id = ? AND is_recurring = ?`

// CompareAndSetRecurring flips the flag only when the stored value equals
// expect. It returns the number of rows changed.
func (q *Queries) CompareAndSetRecurring(ctx context.Context, id string, expect, recurring bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, compareAndSetRecurring, recurring, id, expect)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const transactionExists = `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = ?)`

func (q *Queries) TransactionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, transactionExists, id).Scan(&exists)
	return exists, err
}

const deleteTransaction = `DELETE FROM transactions WHERE id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner, t *Transaction) error {
	return s.Scan(
		&t.ID,
		&t.Kind,
		&t.Title,
		&t.Category,
		&t.Description,
		&t.AmountCents,
		&t.OccurredOn,
		&t.IsRecurring,
		&t.CreatedAt,
	)
}

func fromCore(t core.Transaction) Transaction {
	return Transaction{
		ID:          t.ID,
		Kind:        string(t.Kind),
		Title:       t.Title,
		Category:    t.Category,
		Description: t.Description,
		AmountCents: t.Amount.Cents,
		OccurredOn:  t.OccurredOn.String(),
		IsRecurring: t.IsRecurring,
		CreatedAt:   t.CreatedAt.UnixNano(),
	}
}

func (t Transaction) toCore() (core.Transaction, error) {
	occurred, err := core.ParseDate(t.OccurredOn)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("row %s: %w", t.ID, err)
	}
	return core.Transaction{
		ID:          t.ID,
		Kind:        core.Kind(t.Kind),
		Title:       t.Title,
		Category:    t.Category,
		Description: t.Description,
		Amount:      core.Money{Cents: t.AmountCents},
		OccurredOn:  occurred,
		IsRecurring: t.IsRecurring,
		CreatedAt:   time.Unix(0, t.CreatedAt).UTC(),
	}, nil
}
