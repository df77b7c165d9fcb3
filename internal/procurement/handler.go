package procurement

import (
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

// MetricsPort records receipt movements for monitoring.
type MetricsPort interface {
	ObserveMovement(kind string)
}

// Handler wires HTTP endpoints for the procurement module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   MetricsPort
	validator *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service, metrics MetricsPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, metrics: metrics, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/status", h.advance)
		r.Post("/{id}/receive", h.receive)
		r.Post("/{id}/cancel", h.cancel)
	})
}

type orderLineForm struct {
	MedicationID int64  `json:"medication_id" validate:"required,gt=0"`
	Quantity     int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost     string `json:"unit_cost" validate:"required"`
}

type createOrderForm struct {
	SupplierID int64           `json:"supplier_id" validate:"required,gt=0"`
	ExpectedAt string          `json:"expected_at"`
	Note       string          `json:"note" validate:"max=500"`
	Lines      []orderLineForm `json:"lines" validate:"required,min=1,dive"`
}

type statusForm struct {
	Status string `json:"status" validate:"required,oneof=processing shipped"`
}

type receiveLineForm struct {
	LineID         int64  `json:"line_id" validate:"required,gt=0"`
	ReceivedQty    int64  `json:"received_qty" validate:"required,gt=0"`
	BatchNumber    string `json:"batch_number" validate:"max=64"`
	ProductionDate string `json:"production_date"`
	ExpiryDate     string `json:"expiry_date" validate:"required"`
}

type receiveForm struct {
	Lines []receiveLineForm `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var form createOrderForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("procurement: %s: %w", err, shared.ErrValidation))
		return
	}
	input := CreateOrderInput{SupplierID: form.SupplierID, Note: form.Note}
	if form.ExpectedAt != "" {
		expected, err := time.Parse("2006-01-02", form.ExpectedAt)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("procurement: invalid expected_at: %w", shared.ErrValidation))
			return
		}
		input.ExpectedAt = expected
	}
	for _, line := range form.Lines {
		cost, err := decimal.NewFromString(line.UnitCost)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("procurement: invalid unit_cost: %w", shared.ErrValidation))
			return
		}
		input.Lines = append(input.Lines, OrderLineInput{MedicationID: line.MedicationID, Quantity: line.Quantity, UnitCost: cost})
	}
	po, lines, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("purchase order created", slog.Int64("id", po.ID), slog.String("number", po.Number))
	httpx.Created(w, map[string]any{"order": po, "lines": lines})
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form statusForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("procurement: %s: %w", err, shared.ErrValidation))
		return
	}
	po, err := h.service.Advance(r.Context(), id, POStatus(form.Status))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form receiveForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("procurement: %s: %w", err, shared.ErrValidation))
		return
	}
	input := ReceiveInput{POID: id, Actor: shared.ActorFromContext(r.Context())}
	for _, line := range form.Lines {
		in := ReceiveLineInput{LineID: line.LineID, ReceivedQty: line.ReceivedQty, BatchNumber: line.BatchNumber}
		expiry, err := time.Parse("2006-01-02", line.ExpiryDate)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("procurement: line %d: invalid expiry_date: %w", line.LineID, shared.ErrValidation))
			return
		}
		in.ExpiryDate = expiry
		if line.ProductionDate != "" {
			produced, err := time.Parse("2006-01-02", line.ProductionDate)
			if err != nil {
				httpx.RespondError(w, fmt.Errorf("procurement: line %d: invalid production_date: %w", line.LineID, shared.ErrValidation))
				return
			}
			in.ProductionDate = &produced
		}
		input.Lines = append(input.Lines, in)
	}
	po, lines, err := h.service.Receive(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("purchase order received", slog.Int64("id", po.ID), slog.Int("lines", len(lines)))
	if h.metrics != nil {
		for range lines {
			h.metrics.ObserveMovement("in")
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": po, "lines": lines})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Cancel(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusCancelled})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, lines, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": po, "lines": lines})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	orders, total, err := h.service.ListOrders(r.Context(), POStatus(q.Get("status")), page, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": orders, "pagination": shared.NewPagination(page, limit, total)})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("procurement: invalid id: %w", shared.ErrValidation)
	}
	return id, nil
}
