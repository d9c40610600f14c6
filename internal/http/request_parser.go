// Package http provides HTTP server and handler implementations.
//
// This file decodes and validates request payloads.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"budget/internal/core"
	"budget/internal/services"
)

const (
	maxBodyBytes    = 1 << 20
	maxHistoryLimit = 100

	msgRequired       = "Title, Category and Date are required"
	msgInvalidAmount  = "Amount must be a positive number"
	msgInvalidBody    = "Invalid request body"
	msgInvalidLimit   = "limit must be a positive integer"
	msgInvalidRequest = "Invalid request"
)

// transactionRequest is the add-income / add-expense payload. The "repeat"
// and "repeated" spellings are accepted as aliases of isRecurring.
type transactionRequest struct {
	Title       string     `json:"title" validate:"required,max=50"`
	Amount      core.Money `json:"amount"`
	Category    string     `json:"category" validate:"required"`
	Description string     `json:"description" validate:"max=20"`
	Date        core.Date  `json:"date"`
	IsRecurring bool       `json:"isRecurring"`
	Repeat      *bool      `json:"repeat,omitempty"`
	Repeated    *bool      `json:"repeated,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// requestError carries the message returned to the client with a 400.
type requestError struct {
	message string
	err     error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *requestError) Unwrap() error {
	return e.err
}

func badRequest(message string, err error) error {
	return &requestError{message: message, err: err}
}

func (req transactionRequest) recurring() bool {
	if req.Repeat != nil && *req.Repeat {
		return true
	}
	if req.Repeated != nil && *req.Repeated {
		return true
	}
	return req.IsRecurring
}

func (req transactionRequest) toTransaction(kind core.Kind) core.Transaction {
	return core.Transaction{
		Kind:        kind,
		Title:       sanitizeInput(req.Title),
		Category:    sanitizeInput(req.Category),
		Description: sanitizeInput(req.Description),
		Amount:      req.Amount,
		OccurredOn:  req.Date,
		IsRecurring: req.recurring(),
	}.Normalize()
}

// decodeTransaction reads the body, runs the DTO rules and then the domain
// validation. Every failure is a *requestError.
func decodeTransaction(w http.ResponseWriter, r *http.Request, kind core.Kind) (core.Transaction, error) {
	var req transactionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, core.ErrInvalidAmount) {
			return core.Transaction{}, badRequest(msgInvalidAmount, err)
		}
		return core.Transaction{}, badRequest(msgInvalidBody, err)
	}

	if err := validate.Struct(req); err != nil {
		return core.Transaction{}, badRequest(fieldMessage(err), err)
	}

	t := req.toTransaction(kind)
	if err := t.Validate(); err != nil {
		return core.Transaction{}, badRequest(validationMessage(err), err)
	}
	return t, nil
}

// fieldMessage turns the first validator failure into a client message.
func fieldMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return msgInvalidRequest
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return msgRequired
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// validationMessage maps a core.ValidationError to a client message.
func validationMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrEmptyTitle), errors.Is(err, core.ErrEmptyCategory), errors.Is(err, core.ErrMissingDate):
		return msgRequired
	case errors.Is(err, core.ErrInvalidAmount):
		return msgInvalidAmount
	default:
		return err.Error()
	}
}

// parseLimit reads ?limit=N for the history endpoint. Missing means the
// default; values above maxHistoryLimit are capped.
func parseLimit(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return services.DefaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, badRequest(msgInvalidLimit, err)
	}
	return min(n, maxHistoryLimit), nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
