package returns

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/apotek-pos/apotek-pos/internal/platform/httpx"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// MetricsPort records return outcomes for monitoring.
type MetricsPort interface {
	ObserveReturnApproved()
}

// Handler wires HTTP endpoints for the return workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   MetricsPort
	validator *validator.Validate
}

// NewHandler constructs returns handler.
func NewHandler(logger *slog.Logger, service *Service, metrics MetricsPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, metrics: metrics, validator: validator.New()}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/returns", func(r chi.Router) {
		r.Get("/", h.listReturns)
		r.Post("/", h.requestReturn)
		r.Get("/{id}", h.getReturn)
		r.Post("/{id}/approve", h.approveReturn)
		r.Post("/{id}/reject", h.rejectReturn)
	})
}

type returnLineForm struct {
	SaleLineID int64  `json:"sale_line_id" validate:"required,gt=0"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	Condition  string `json:"condition" validate:"required,oneof=good damaged expired"`
}

type requestForm struct {
	SaleID int64            `json:"sale_id" validate:"required,gt=0"`
	Reason string           `json:"reason" validate:"max=500"`
	Lines  []returnLineForm `json:"lines" validate:"required,min=1,dive"`
}

type rejectForm struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) requestReturn(w http.ResponseWriter, r *http.Request) {
	var form requestForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("returns: %s: %w", err, shared.ErrValidation))
		return
	}
	input := RequestInput{SaleID: form.SaleID, Reason: form.Reason, Actor: shared.ActorFromContext(r.Context())}
	for _, line := range form.Lines {
		input.Lines = append(input.Lines, ReturnLineInput{
			SaleLineID: line.SaleLineID,
			Quantity:   line.Quantity,
			Condition:  LineCondition(line.Condition),
		})
	}
	ret, lines, err := h.service.Request(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("return requested", slog.Int64("id", ret.ID), slog.String("number", ret.Number))
	httpx.Created(w, map[string]any{"return": ret, "lines": lines})
}

func (h *Handler) approveReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, lines, err := h.service.Approve(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveReturnApproved()
	}
	h.logger.Info("return approved", slog.Int64("id", ret.ID), slog.String("refund_total", ret.RefundTotal.String()))
	httpx.JSON(w, http.StatusOK, map[string]any{"return": ret, "lines": lines})
}

func (h *Handler) rejectReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form rejectForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.Reject(r.Context(), id, form.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, lines, err := h.service.GetReturn(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"return": ret, "lines": lines})
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{Status: ReturnStatus(q.Get("status"))}
	filters.SaleID, _ = strconv.ParseInt(q.Get("sale_id"), 10, 64)
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	items, total, err := h.service.ListReturns(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": shared.NewPagination(filters.Page, filters.Limit, total)})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("returns: invalid id: %w", shared.ErrValidation)
	}
	return id, nil
}
