package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/store"
)

// Failure records one template that could not be fully materialized.
type Failure struct {
	TemplateID string
	ErrorType  string
	Err        error
}

// TickReport summarizes one pass of the pipeline for one kind.
type TickReport struct {
	Kind        core.Kind
	Date        core.Date
	Checked     int // records read from the store
	Due         int // templates the evaluator returned
	Created     int // children persisted and kept
	Suppressed  int // templates moved to fired
	Compensated int // duplicate children removed after a concurrent fire
	Failures    []Failure
}

// Failed returns the number of templates that hit an error.
func (r TickReport) Failed() int {
	return len(r.Failures)
}

// RecurringProcessor handles the automatic creation of transactions from
// recurring templates.
type RecurringProcessor struct {
	store        store.TransactionStore
	materializer *Materializer
	checker      DuenessChecker
}

// NewRecurringProcessor creates a processor that reads templates from st and
// commits through materializer.
func NewRecurringProcessor(st store.TransactionStore, materializer *Materializer) *RecurringProcessor {
	return &RecurringProcessor{
		store:        st,
		materializer: materializer,
		checker:      DayOfMonthChecker{},
	}
}

// WithChecker replaces the dueness strategy.
func (p *RecurringProcessor) WithChecker(checker DuenessChecker) *RecurringProcessor {
	p.checker = checker
	return p
}

// ProcessDue runs fetch, evaluate and materialize once for kind. Failures of
// single templates are logged and counted; only a failed fetch is returned.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, kind core.Kind, today core.Date) (TickReport, error) {
	report := TickReport{Kind: kind, Date: today}
	if p.store == nil || p.materializer == nil {
		return report, fmt.Errorf("processor not properly initialized")
	}
	if !kind.IsValid() {
		return report, fmt.Errorf("process %q: %w", kind, core.ErrInvalidKind)
	}

	all, err := p.store.List(ctx, kind)
	if err != nil {
		return report, fmt.Errorf("%w: list %s templates: %w", ErrStoreUnavailable, kind, err)
	}
	report.Checked = len(all)

	due := DueTemplatesWith(p.checker, all, today)
	report.Due = len(due)

	slog.InfoContext(ctx, "Processing recurring transactions",
		applog.FieldComponent, applog.ComponentRecurring,
		applog.FieldKind, kind,
		applog.FieldDate, today.String(),
		"total_checked", len(all),
		"due", len(due))

	for _, tpl := range due {
		result, err := p.materializer.Fire(ctx, tpl, today)

		switch result.Outcome {
		case OutcomeFired:
			report.Created++
			report.Suppressed++
		case OutcomeSuppressionFailed, OutcomeTemplateGone, OutcomeDuplicate:
			report.Created++
		case OutcomeCompensated:
			report.Compensated++
		}

		if err != nil {
			failure := Failure{TemplateID: tpl.ID, ErrorType: errorType(err), Err: err}
			report.Failures = append(report.Failures, failure)
			slog.ErrorContext(ctx, "Failed to materialize recurring template",
				applog.FieldComponent, applog.ComponentRecurring,
				applog.FieldOperation, applog.OpMaterialize,
				applog.FieldTemplateID, tpl.ID,
				applog.FieldKind, kind,
				applog.FieldDate, today.String(),
				applog.FieldErrorType, failure.ErrorType,
				"outcome", result.Outcome.String(),
				applog.FieldError, err)
			continue
		}

		if result.Outcome == OutcomeFired {
			slog.InfoContext(ctx, "Created transaction from recurring template",
				applog.FieldComponent, applog.ComponentRecurring,
				applog.FieldTemplateID, tpl.ID,
				applog.FieldChildID, result.Child.ID,
				applog.FieldKind, kind,
				applog.FieldTitle, tpl.Title,
				applog.FieldAmountCents, tpl.Amount.Cents,
				applog.FieldDate, today.String())
		}
	}

	slog.InfoContext(ctx, "Recurring processing complete",
		applog.FieldComponent, applog.ComponentRecurring,
		applog.FieldKind, kind,
		applog.FieldDate, today.String(),
		"created", report.Created,
		"suppressed", report.Suppressed,
		"compensated", report.Compensated,
		"failed", report.Failed())

	return report, nil
}

// ProcessKinds runs ProcessDue for every kind concurrently. Kinds operate on
// disjoint records, so their pipelines never touch the same template. All
// reports are returned, in the order of kinds, along with the joined fetch
// errors.
func (p *RecurringProcessor) ProcessKinds(ctx context.Context, today core.Date, kinds ...core.Kind) ([]TickReport, error) {
	if len(kinds) == 0 {
		kinds = core.Kinds()
	}

	reports := make([]TickReport, len(kinds))
	errs := make([]error, len(kinds))

	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = p.ProcessDue(ctx, kind, today)
		}()
	}
	wg.Wait()

	return reports, errors.Join(errs...)
}
