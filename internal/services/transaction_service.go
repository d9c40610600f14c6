package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/store"
)

// DefaultHistoryLimit is the number of entries History returns when the caller
// does not ask for a specific amount.
const DefaultHistoryLimit = 7

// EventPublisher announces changes to stored transactions.
type EventPublisher interface {
	PublishTransactionCreated(ctx context.Context, t core.Transaction) error
	PublishTransactionDeleted(ctx context.Context, id string, kind core.Kind) error
}

// TransactionService orchestrates transaction operations across the store and
// the event bus. It satisfies store.TransactionStore, so the recurring
// pipeline can write through it and materialized records are announced too.
type TransactionService struct {
	store     store.TransactionStore
	publisher EventPublisher
}

var _ store.TransactionStore = (*TransactionService)(nil)

// NewTransactionService wraps st. A nil publisher disables events.
func NewTransactionService(st store.TransactionStore, publisher EventPublisher) *TransactionService {
	return &TransactionService{
		store:     st,
		publisher: publisher,
	}
}

func (s *TransactionService) List(ctx context.Context, kind core.Kind) ([]core.Transaction, error) {
	return s.store.List(ctx, kind)
}

func (s *TransactionService) Get(ctx context.Context, id string) (core.Transaction, error) {
	return s.store.Get(ctx, id)
}

// Create saves t and publishes a created event. A publish failure is logged
// and never fails the call.
func (s *TransactionService) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	created, err := s.store.Create(ctx, t)
	if err != nil {
		return core.Transaction{}, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTransactionCreated(ctx, created); err != nil {
			slog.WarnContext(ctx, "Failed to publish created event",
				applog.FieldComponent, applog.ComponentAMQP,
				applog.FieldID, created.ID,
				applog.FieldKind, created.Kind,
				applog.FieldError, err)
		}
	}

	return created, nil
}

func (s *TransactionService) Update(ctx context.Context, id string, patch core.Patch) error {
	return s.store.Update(ctx, id, patch)
}

// Delete removes the record and publishes a deleted event.
func (s *TransactionService) Delete(ctx context.Context, id string) error {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.delete(ctx, existing)
}

// DeleteKind removes id only if it is a record of kind, so an expense cannot
// be deleted through the income endpoint.
func (s *TransactionService) DeleteKind(ctx context.Context, kind core.Kind, id string) error {
	existing, err := s.GetKind(ctx, kind, id)
	if err != nil {
		return err
	}
	return s.delete(ctx, existing)
}

func (s *TransactionService) delete(ctx context.Context, t core.Transaction) error {
	if err := s.store.Delete(ctx, t.ID); err != nil {
		return err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTransactionDeleted(ctx, t.ID, t.Kind); err != nil {
			slog.WarnContext(ctx, "Failed to publish deleted event",
				applog.FieldComponent, applog.ComponentAMQP,
				applog.FieldID, t.ID,
				applog.FieldKind, t.Kind,
				applog.FieldError, err)
		}
	}
	return nil
}

// GetKind fetches id and reports ErrNotFound if it belongs to another kind.
func (s *TransactionService) GetKind(ctx context.Context, kind core.Kind, id string) (core.Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Kind != kind {
		return core.Transaction{}, fmt.Errorf("get %s %s: %w", kind, id, store.ErrNotFound)
	}
	return t, nil
}

// Repeat copies the record to today as a one-off entry. The source is left
// as it is, whether it is a template or not.
func (s *TransactionService) Repeat(ctx context.Context, kind core.Kind, id string, today core.Date) (core.Transaction, error) {
	source, err := s.GetKind(ctx, kind, id)
	if err != nil {
		return core.Transaction{}, err
	}

	created, err := s.Create(ctx, Materialize(source, today))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("repeat %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Repeated transaction",
		applog.FieldComponent, applog.ComponentApp,
		applog.FieldOperation, applog.OpRepeat,
		applog.FieldTemplateID, source.ID,
		applog.FieldChildID, created.ID,
		applog.FieldKind, kind)

	return created, nil
}

// History merges every kind, newest first, and keeps the first limit entries.
// A non-positive limit means DefaultHistoryLimit.
func (s *TransactionService) History(ctx context.Context, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var all []core.Transaction
	for _, kind := range core.Kinds() {
		items, err := s.store.List(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		all = append(all, items...)
	}

	store.SortNewestFirst(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Close releases the underlying store and publisher when they hold resources.
func (s *TransactionService) Close() error {
	var errs []error

	if c, ok := s.store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if c, ok := s.publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close transaction service: %w", errors.Join(errs...))
	}
	return nil
}
