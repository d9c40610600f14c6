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

var (
	// ErrStoreUnavailable wraps any store failure while creating a child or
	// writing the suppression.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAlreadySuppressed means another tick fired the template between this
	// tick's read and its suppression write.
	ErrAlreadySuppressed = errors.New("template already suppressed")
)

// Outcome describes how far a commit got.
type Outcome int

const (
	// OutcomeNone: nothing was written.
	OutcomeNone Outcome = iota
	// OutcomeFired: child created and template suppressed.
	OutcomeFired
	// OutcomeSuppressionFailed: child created, template still active. It will
	// fire again on the next matching tick.
	OutcomeSuppressionFailed
	// OutcomeTemplateGone: child created, template deleted meanwhile.
	OutcomeTemplateGone
	// OutcomeDuplicate: child created, but another tick had already fired the
	// template, so the child duplicates that tick's child.
	OutcomeDuplicate
	// OutcomeCompensated: as OutcomeDuplicate, with this tick's child removed.
	OutcomeCompensated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeFired:
		return "fired"
	case OutcomeSuppressionFailed:
		return "suppression_failed"
	case OutcomeTemplateGone:
		return "template_gone"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeCompensated:
		return "compensated"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// CommitResult is what Commit reports for one template.
type CommitResult struct {
	Outcome Outcome
	Child   core.Transaction
}

// MaterializerConfig selects how the suppression write is guarded.
type MaterializerConfig struct {
	// ConditionalSuppress makes the suppression a compare-and-set
	// (recurring true -> false) so a concurrent tick is detected.
	ConditionalSuppress bool
	// CompensateDuplicates deletes this tick's child when the compare-and-set
	// shows another tick already fired the template.
	CompensateDuplicates bool
}

// DefaultMaterializerConfig guards suppression and removes detected duplicates.
func DefaultMaterializerConfig() MaterializerConfig {
	return MaterializerConfig{
		ConditionalSuppress:  true,
		CompensateDuplicates: true,
	}
}

// Materializer turns due templates into concrete transactions.
type Materializer struct {
	store  store.TransactionStore
	config MaterializerConfig
}

func NewMaterializer(st store.TransactionStore, config MaterializerConfig) *Materializer {
	return &Materializer{
		store:  st,
		config: config,
	}
}

// Materialize builds the child record of template for today. Every field is
// copied except ID and CreatedAt, which the store assigns, OccurredOn, which
// becomes today, and IsRecurring, which is forced to false.
func Materialize(template core.Transaction, today core.Date) core.Transaction {
	return core.Transaction{
		ID:          "",
		Kind:        template.Kind,
		Title:       template.Title,
		Category:    template.Category,
		Description: template.Description,
		Amount:      template.Amount,
		OccurredOn:  today,
		IsRecurring: false,
	}
}

// Commit creates child and then suppresses template.
//
// A create failure aborts without touching the template. A suppression
// failure leaves the child in place and the template active. A conflict on
// the conditional suppression means another tick already fired the template.
func (m *Materializer) Commit(ctx context.Context, child, template core.Transaction) (CommitResult, error) {
	if m.store == nil {
		return CommitResult{}, errors.New("materializer not properly initialized")
	}
	if err := child.Validate(); err != nil {
		return CommitResult{}, fmt.Errorf("template %s: %w", template.ID, err)
	}

	created, err := m.store.Create(ctx, child)
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			return CommitResult{}, fmt.Errorf("template %s: %w", template.ID, err)
		}
		return CommitResult{}, fmt.Errorf("%w: create child of %s: %w", ErrStoreUnavailable, template.ID, err)
	}
	result := CommitResult{Outcome: OutcomeFired, Child: created}

	patch := core.Patch{IsRecurring: false}
	if m.config.ConditionalSuppress {
		patch = core.Suppress()
	}

	err = m.store.Update(ctx, template.ID, patch)
	switch {
	case err == nil:
		return result, nil

	case errors.Is(err, store.ErrNotFound):
		result.Outcome = OutcomeTemplateGone
		return result, fmt.Errorf("suppress template %s: %w", template.ID, err)

	case errors.Is(err, store.ErrConflict):
		result.Outcome = OutcomeDuplicate
		if !m.config.CompensateDuplicates {
			return result, fmt.Errorf("%w: %s", ErrAlreadySuppressed, template.ID)
		}
		if delErr := m.store.Delete(ctx, created.ID); delErr != nil && !errors.Is(delErr, store.ErrNotFound) {
			return result, fmt.Errorf("%w: %s: remove duplicate %s: %w", ErrAlreadySuppressed, template.ID, created.ID, delErr)
		}
		result.Outcome = OutcomeCompensated
		slog.WarnContext(ctx, "Template fired concurrently, duplicate removed",
			applog.FieldComponent, applog.ComponentRecurring,
			applog.FieldOperation, applog.OpCompensate,
			applog.FieldTemplateID, template.ID,
			applog.FieldChildID, created.ID)
		return result, nil

	default:
		result.Outcome = OutcomeSuppressionFailed
		return result, fmt.Errorf("%w: suppress template %s: %w", ErrStoreUnavailable, template.ID, err)
	}
}

// Fire materializes template for today and commits it.
func (m *Materializer) Fire(ctx context.Context, template core.Transaction, today core.Date) (CommitResult, error) {
	return m.Commit(ctx, Materialize(template, today), template)
}

// errorType maps a commit error onto the log error categories.
func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrValidation):
		return applog.ErrorTypeValidation
	case errors.Is(err, ErrAlreadySuppressed):
		return applog.ErrorTypeAlreadySuppressed
	case errors.Is(err, store.ErrNotFound):
		return applog.ErrorTypeNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return applog.ErrorTypeStoreUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return applog.ErrorTypeNetwork
	default:
		return applog.ErrorTypeInternal
	}
}
