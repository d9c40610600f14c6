package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	MaxTitleLength       = 50
	MaxDescriptionLength = 20
)

type (
	Kind string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Transaction is an income or expense record. A record with IsRecurring
	// set is a template the scheduler materializes once a month.
	Transaction struct {
		ID          string
		Kind        Kind
		Title       string
		Category    string
		Description string
		Amount      Money
		OccurredOn  Date
		IsRecurring bool
		CreatedAt   time.Time
	}

	// Patch is the only mutation a stored transaction accepts after creation.
	// A non-nil ExpectRecurring turns the update into a compare-and-set on the
	// stored flag.
	Patch struct {
		IsRecurring     bool
		ExpectRecurring *bool
	}
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidKind        = errors.New("invalid kind")
	ErrEmptyTitle         = errors.New("empty title")
	ErrTitleTooLong       = fmt.Errorf("title too long (max %d characters)", MaxTitleLength)
	ErrEmptyCategory      = errors.New("empty category")
	ErrDescriptionTooLong = fmt.Errorf("description too long (max %d characters)", MaxDescriptionLength)
	ErrMissingDate        = errors.New("missing date")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// ValidationError reports which field of a transaction was rejected.
// It matches both ErrValidation and the underlying field error.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// Kinds lists every transaction kind in a stable order.
func Kinds() []Kind {
	return []Kind{Income, Expense}
}

func (k Kind) IsValid() bool {
	switch k {
	case Income, Expense:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts the singular and plural spellings used by the REST paths.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "incomes":
		return Income, nil
	case "expense", "expenses":
		return Expense, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as seen in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp; for timestamps only
// the calendar day in the timestamp's own offset is kept.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

func (d Date) Equal(o Date) bool {
	return d.Time.Equal(o.Time)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("date must be a string, got %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks the fields a user supplies. ID and CreatedAt belong to the
// store and are not checked.
func (t Transaction) Validate() error {
	if !t.Kind.IsValid() {
		return invalid("kind", ErrInvalidKind)
	}
	title := strings.TrimSpace(t.Title)
	if title == "" {
		return invalid("title", ErrEmptyTitle)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return invalid("title", ErrTitleTooLong)
	}
	if strings.TrimSpace(t.Category) == "" {
		return invalid("category", ErrEmptyCategory)
	}
	if utf8.RuneCountInString(strings.TrimSpace(t.Description)) > MaxDescriptionLength {
		return invalid("description", ErrDescriptionTooLong)
	}
	if t.OccurredOn.IsZero() {
		return invalid("date", ErrMissingDate)
	}
	if err := t.Amount.Validate(); err != nil {
		return invalid("amount", err)
	}
	return nil
}

// Normalize trims the free-text fields the way the store persists them.
func (t Transaction) Normalize() Transaction {
	t.Title = strings.TrimSpace(t.Title)
	t.Category = strings.TrimSpace(t.Category)
	t.Description = strings.TrimSpace(t.Description)
	return t
}

// IsTemplate reports whether the scheduler may materialize t.
func (t Transaction) IsTemplate() bool {
	return t.IsRecurring
}

// Suppress returns the compare-and-set patch that moves a template from
// active to fired.
func Suppress() Patch {
	expect := true
	return Patch{IsRecurring: false, ExpectRecurring: &expect}
}

// Conditional reports whether the patch carries a precondition.
func (p Patch) Conditional() bool {
	return p.ExpectRecurring != nil
}
