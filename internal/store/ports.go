// Package store defines the transaction store the recurrence engine and the
// REST layer depend on. Implementations live in store/memory and storage.
package store

import (
	"context"
	"errors"

	"budget/internal/core"
)

var (
	// ErrNotFound is returned when no record has the requested ID.
	ErrNotFound = errors.New("transaction not found")
	// ErrConflict is returned when a conditional update finds the stored
	// value differs from the expected one.
	ErrConflict = errors.New("transaction changed concurrently")
)

// Ports for outbound adapters.
type (
	// TransactionReader lists and fetches stored records.
	TransactionReader interface {
		// List returns every record of the given kind, newest CreatedAt first.
		List(ctx context.Context, kind core.Kind) ([]core.Transaction, error)
		Get(ctx context.Context, id string) (core.Transaction, error)
	}

	// TransactionWriter persists new records. Create assigns ID and CreatedAt
	// and returns the stored record.
	TransactionWriter interface {
		Create(ctx context.Context, t core.Transaction) (core.Transaction, error)
	}

	// TransactionUpdater applies a Patch. A conditional patch whose
	// precondition fails returns ErrConflict.
	TransactionUpdater interface {
		Update(ctx context.Context, id string, patch core.Patch) error
	}

	TransactionDeleter interface {
		Delete(ctx context.Context, id string) error
	}

	// TransactionStore is the full collaborator.
	TransactionStore interface {
		TransactionReader
		TransactionWriter
		TransactionUpdater
		TransactionDeleter
	}
)
