package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/services"
	"budget/internal/store"
)

// transactionResponse is the JSON shape of a stored record.
type transactionResponse struct {
	ID          string     `json:"id"`
	Type        core.Kind  `json:"type"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Amount      core.Money `json:"amount"`
	Date        core.Date  `json:"date"`
	IsRecurring bool       `json:"isRecurring"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		Type:        t.Kind,
		Title:       t.Title,
		Category:    t.Category,
		Description: t.Description,
		Amount:      t.Amount,
		Date:        t.OccurredOn,
		IsRecurring: t.IsRecurring,
		CreatedAt:   t.CreatedAt,
	}
}

func toResponses(items []core.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, toResponse(t))
	}
	return out
}

// label is the capitalized kind used in client messages.
func label(kind core.Kind) string {
	s := kind.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (s *Server) handleAdd(kind core.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := decodeTransaction(w, r, kind)
		if err != nil {
			s.writeError(w, r, applog.OpCreate, kind, err)
			return
		}

		created, err := s.transactions.Create(r.Context(), t)
		if err != nil {
			s.writeError(w, r, applog.OpCreate, kind, err)
			return
		}

		applog.FromContext(r.Context()).InfoContext(r.Context(), "Transaction created",
			applog.NewFields().
				WithOperation(applog.OpCreate).
				WithTransaction(created.ID, created.Kind.String(), created.Title, created.Amount.Cents, created.OccurredOn.String()).
				ToSlice()...)

		NewJSONResponse().Created(label(kind)+" added", created.ID).Write(w)
	}
}

func (s *Server) handleList(kind core.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.transactions.List(r.Context(), kind)
		if err != nil {
			s.writeError(w, r, applog.OpList, kind, err)
			return
		}
		NewJSONResponse().Body(toResponses(items)).Write(w)
	}
}

func (s *Server) handleDelete(kind core.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.transactions.DeleteKind(r.Context(), kind, id); err != nil {
			s.writeError(w, r, applog.OpDelete, kind, err)
			return
		}
		NewJSONResponse().Message(label(kind) + " has been deleted").Write(w)
	}
}

func (s *Server) handleRepeat(kind core.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		created, err := s.transactions.Repeat(r.Context(), kind, id, s.today())
		if err != nil {
			s.writeError(w, r, applog.OpRepeat, kind, err)
			return
		}
		NewJSONResponse().Body(toResponse(created)).Write(w)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, applog.OpList, "", err)
		return
	}
	items, err := s.transactions.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, applog.OpList, "", err)
		return
	}
	NewJSONResponse().Body(toResponses(items)).Write(w)
}

type failureResponse struct {
	TemplateID string `json:"templateId"`
	ErrorType  string `json:"errorType"`
	Error      string `json:"error"`
}

type tickReportResponse struct {
	Kind        core.Kind         `json:"kind"`
	Date        core.Date         `json:"date"`
	Checked     int               `json:"checked"`
	Due         int               `json:"due"`
	Created     int               `json:"created"`
	Suppressed  int               `json:"suppressed"`
	Compensated int               `json:"compensated"`
	Failed      int               `json:"failed"`
	Failures    []failureResponse `json:"failures"`
}

type recurringRunResponse struct {
	Message string               `json:"message,omitempty"`
	Reports []tickReportResponse `json:"reports"`
}

func toTickReports(reports []services.TickReport) []tickReportResponse {
	out := make([]tickReportResponse, 0, len(reports))
	for _, rep := range reports {
		failures := make([]failureResponse, 0, len(rep.Failures))
		for _, f := range rep.Failures {
			failures = append(failures, failureResponse{TemplateID: f.TemplateID, ErrorType: f.ErrorType, Error: f.Err.Error()})
		}
		out = append(out, tickReportResponse{
			Kind:        rep.Kind,
			Date:        rep.Date,
			Checked:     rep.Checked,
			Due:         rep.Due,
			Created:     rep.Created,
			Suppressed:  rep.Suppressed,
			Compensated: rep.Compensated,
			Failed:      rep.Failed(),
			Failures:    failures,
		})
	}
	return out
}

// handleRecurringRun runs one tick per kind now. The run outlives a client
// disconnect the same way a scheduled tick does.
func (s *Server) handleRecurringRun(w http.ResponseWriter, r *http.Request) {
	if s.recurring == nil {
		ServiceUnavailableError("Recurring scheduler is not configured").Write(w)
		return
	}

	reports, err := s.recurring.RunAll(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		NewJSONResponse().Body(recurringRunResponse{Reports: toTickReports(reports)}).Write(w)
	case errors.Is(err, services.ErrTickInProgress):
		NewJSONResponse().
			Status(http.StatusConflict).
			Body(recurringRunResponse{Message: "A recurring run is already in progress", Reports: toTickReports(reports)}).
			Write(w)
	default:
		s.writeError(w, r, applog.OpMaterialize, "", err)
	}
}

// writeError maps service errors to status codes. Anything unexpected is
// logged and answered with a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, kind core.Kind, err error) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)

	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		logger.WarnContext(ctx, "Rejected request",
			applog.FieldOperation, op,
			applog.FieldKind, kind,
			applog.FieldErrorType, applog.ErrorTypeValidation,
			applog.FieldError, err)
		BadRequestError(reqErr.message).Write(w)
	case errors.Is(err, core.ErrValidation):
		BadRequestError(validationMessage(err)).Write(w)
	case errors.Is(err, store.ErrNotFound):
		name := label(kind)
		if name == "" {
			name = "Transaction"
		}
		NotFoundError(name + " not found").Write(w)
	default:
		logger.Log(ctx, slog.LevelError, "Request failed",
			applog.FieldOperation, op,
			applog.FieldKind, kind,
			applog.FieldErrorType, applog.ErrorTypeInternal,
			applog.FieldError, err)
		InternalServerError().Write(w)
	}
}
