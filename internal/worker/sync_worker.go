package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budget/internal/amqp"
	applog "budget/internal/log"
	"budget/internal/sheets"
	"budget/internal/store"
)

// SyncWorker mirrors stored transactions into the spreadsheet export.
type SyncWorker struct {
	store    store.TransactionReader
	exporter sheets.Exporter
}

func NewSyncWorker(st store.TransactionReader, exporter sheets.Exporter) *SyncWorker {
	return &SyncWorker{
		store:    st,
		exporter: exporter,
	}
}

// HandleEvent processes a single transaction event from AMQP. A returned
// error makes the consumer requeue the message.
func (w *SyncWorker) HandleEvent(ctx context.Context, event *amqp.TransactionEvent) error {
	switch event.Type {
	case amqp.EventCreated:
		return w.handleCreated(ctx, event)
	case amqp.EventDeleted:
		return w.handleDeleted(ctx, event)
	default:
		// Requeueing would loop forever on an unknown type.
		slog.WarnContext(ctx, "Ignoring unknown event type",
			applog.FieldComponent, applog.ComponentWorker,
			"type", event.Type,
			applog.FieldID, event.ID)
		return nil
	}
}

func (w *SyncWorker) handleCreated(ctx context.Context, event *amqp.TransactionEvent) error {
	// The event only carries the ID; the store is the source of truth.
	t, err := w.store.Get(ctx, event.ID)
	if errors.Is(err, store.ErrNotFound) {
		slog.InfoContext(ctx, "Transaction gone before export, skipping",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldID, event.ID,
			applog.FieldKind, event.Kind)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	ref, err := w.exporter.Append(ctx, t)
	if err != nil {
		return fmt.Errorf("append to sheets: %w", err)
	}

	slog.InfoContext(ctx, "Successfully synced transaction",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldOperation, applog.OpSync,
		applog.FieldID, t.ID,
		applog.FieldKind, t.Kind,
		"sheets_ref", ref,
		applog.FieldAmountCents, t.Amount.Cents)

	return nil
}

func (w *SyncWorker) handleDeleted(ctx context.Context, event *amqp.TransactionEvent) error {
	err := w.exporter.Remove(ctx, event.Kind, event.ID)
	if errors.Is(err, sheets.ErrRowNotFound) {
		slog.InfoContext(ctx, "No exported row for deleted transaction",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldID, event.ID,
			applog.FieldKind, event.Kind)
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove from sheets: %w", err)
	}

	slog.InfoContext(ctx, "Successfully removed transaction",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldOperation, applog.OpDelete,
		applog.FieldID, event.ID,
		applog.FieldKind, event.Kind)

	return nil
}
