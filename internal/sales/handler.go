package sales

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek-pos/internal/platform/httpx"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// MetricsPort records sale outcomes for monitoring.
type MetricsPort interface {
	ObserveSaleCompleted()
	ObserveAllocationFailure()
}

// Handler wires HTTP endpoints for the sale transaction engine.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   MetricsPort
	validator *validator.Validate
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service, metrics MetricsPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, metrics: metrics, validator: validator.New()}
}

func (h *Handler) observeOutcome(err error) {
	if h.metrics == nil {
		return
	}
	if err == nil {
		h.metrics.ObserveSaleCompleted()
		return
	}
	var stockErr *shared.StockError
	if errors.As(err, &stockErr) {
		h.metrics.ObserveAllocationFailure()
	}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Get("/", h.listSales)
		r.Post("/", h.completeSale)
		r.Post("/hold", h.holdSale)
		r.Get("/{id}", h.getSale)
		r.Post("/{id}/complete", h.completeHeldSale)
		r.Post("/{id}/cancel", h.cancelSale)
		r.Get("/{id}/receipt", h.receipt)
	})
}

type saleLineForm struct {
	MedicationID int64  `json:"medication_id" validate:"required,gt=0"`
	Quantity     int64  `json:"quantity" validate:"required,gt=0"`
	DiscountPct  string `json:"discount_pct"`
}

type saleForm struct {
	Kind               string         `json:"kind" validate:"required,oneof=prescription over_the_counter consignment"`
	CustomerRef        string         `json:"customer_ref" validate:"max=255"`
	PrescriberRef      string         `json:"prescriber_ref" validate:"max=255"`
	PrescriptionNumber string         `json:"prescription_number" validate:"max=64"`
	Lines              []saleLineForm `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) decodeSaleInput(r *http.Request) (SaleInput, error) {
	var form saleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		return SaleInput{}, err
	}
	if err := h.validator.Struct(form); err != nil {
		return SaleInput{}, fmt.Errorf("sales: %s: %w", err, shared.ErrValidation)
	}
	input := SaleInput{
		Kind:               SaleKind(form.Kind),
		CustomerRef:        form.CustomerRef,
		PrescriberRef:      form.PrescriberRef,
		PrescriptionNumber: form.PrescriptionNumber,
		Actor:              shared.ActorFromContext(r.Context()),
	}
	for _, line := range form.Lines {
		req := LineRequest{MedicationID: line.MedicationID, Quantity: line.Quantity}
		if line.DiscountPct != "" {
			pct, err := decimal.NewFromString(line.DiscountPct)
			if err != nil {
				return SaleInput{}, fmt.Errorf("sales: invalid discount_pct: %w", shared.ErrValidation)
			}
			req.DiscountPct = pct
		}
		input.Lines = append(input.Lines, req)
	}
	return input, nil
}

func (h *Handler) completeSale(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeSaleInput(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, lines, err := h.service.CompleteSale(r.Context(), input)
	h.observeOutcome(err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("sale completed",
		slog.Int64("id", sale.ID),
		slog.String("number", sale.Number),
		slog.String("grand_total", sale.GrandTotal.String()))
	httpx.Created(w, map[string]any{"sale": sale, "lines": lines})
}

func (h *Handler) holdSale(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeSaleInput(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, lines, err := h.service.HoldSale(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, map[string]any{"sale": sale, "lines": lines})
}

func (h *Handler) completeHeldSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, lines, err := h.service.CompleteHeldSale(r.Context(), id)
	h.observeOutcome(err)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("held sale completed", slog.Int64("id", sale.ID), slog.String("number", sale.Number))
	httpx.JSON(w, http.StatusOK, map[string]any{"sale": sale, "lines": lines})
}

func (h *Handler) cancelSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.CancelSale(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusCancelled})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, lines, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale": sale, "lines": lines})
}

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, lines, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if sale.Status != StatusCompleted {
		httpx.RespondError(w, &shared.StateError{Entity: "sale_transaction", ID: id, From: string(sale.Status), To: "receipt"})
		return
	}
	httpx.JSON(w, http.StatusOK, BuildReceipt(sale, lines))
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{Status: SaleStatus(q.Get("status")), Kind: SaleKind(q.Get("kind"))}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("sales: invalid from: %w", shared.ErrValidation))
			return
		}
		filters.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("sales: invalid to: %w", shared.ErrValidation))
			return
		}
		filters.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	sales, total, err := h.service.ListSales(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": sales, "pagination": shared.NewPagination(filters.Page, filters.Limit, total)})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("sales: invalid id: %w", shared.ErrValidation)
	}
	return id, nil
}
