// Package services provides business logic and orchestration services.
//
// This file holds the recurrence evaluator: the pure decision of which
// templates are due on a given day. The check is a strategy so another
// cadence can be plugged into the processor without touching the pipeline.

package services

import "budget/internal/core"

// DuenessChecker is the strategy interface for checking if a template is due.
type DuenessChecker interface {
	// IsDue reports whether t should be materialized on today.
	IsDue(t core.Transaction, today core.Date) bool
}

// DayOfMonthChecker fires a template on every day whose day-of-month equals
// the day-of-month of the template's own date.
//
// A template anchored on the 29th, 30th or 31st never matches in a month that
// lacks that day; the occurrence is skipped, not moved to the month's last day.
type DayOfMonthChecker struct{}

func (DayOfMonthChecker) IsDue(t core.Transaction, today core.Date) bool {
	if !t.IsRecurring || t.OccurredOn.IsZero() || today.IsZero() {
		return false
	}
	return t.OccurredOn.Day() == today.Day()
}

// DueTemplates returns the templates in all that are due on today, in input
// order. It has no side effects.
func DueTemplates(all []core.Transaction, today core.Date) []core.Transaction {
	return DueTemplatesWith(DayOfMonthChecker{}, all, today)
}

// DueTemplatesWith is DueTemplates with a custom checker.
func DueTemplatesWith(checker DuenessChecker, all []core.Transaction, today core.Date) []core.Transaction {
	var due []core.Transaction
	for _, t := range all {
		if checker.IsDue(t, today) {
			due = append(due, t)
		}
	}
	return due
}
