package sheets

import (
	"context"
	"errors"

	"budget/internal/core"
)

var ErrRowNotFound = errors.New("row not found")

// Ports for outbound adapters.
type (
	// TransactionWriter exports a transaction. Appending an ID that already
	// has a row leaves the sheet unchanged and returns that row's reference,
	// so redelivered events do not duplicate rows.
	TransactionWriter interface {
		Append(ctx context.Context, t core.Transaction) (rowRef string, err error)
	}

	// TransactionRemover deletes the exported row of a transaction.
	TransactionRemover interface {
		Remove(ctx context.Context, kind core.Kind, id string) error
	}

	Exporter interface {
		TransactionWriter
		TransactionRemover
	}
)

// Column layout of an exported row. The ID is last so that lookups for
// removal only read one column.
const (
	ColDate = iota
	ColTitle
	ColCategory
	ColDescription
	ColAmount
	ColRecurring
	ColID
	NumColumns
)

// Header is the first row of every export sheet.
var Header = []any{"Date", "Title", "Category", "Description", "Amount", "Recurring", "ID"}

// Row renders t in export column order.
func Row(t core.Transaction) []any {
	row := make([]any, NumColumns)
	row[ColDate] = t.OccurredOn.String()
	row[ColTitle] = t.Title
	row[ColCategory] = t.Category
	row[ColDescription] = t.Description
	row[ColAmount] = t.Amount.String()
	row[ColRecurring] = t.IsRecurring
	row[ColID] = t.ID
	return row
}
