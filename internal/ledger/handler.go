package ledger

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/apotek-pos/apotek-pos/internal/platform/httpx"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// MetricsPort records stock movements for monitoring.
type MetricsPort interface {
	ObserveMovement(kind string)
}

// Handler wires HTTP endpoints for the batch ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   MetricsPort
	validator *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service, metrics MetricsPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, metrics: metrics, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.receiveInitialStock)
		r.Get("/expiring", h.expiringBatches)
		r.Get("/{id}", h.batchDetail)
		r.Get("/{id}/movements", h.batchMovements)
		r.Post("/{id}/adjustments", h.adjustBatch)
	})
	r.Get("/availability/{medicationID}", h.availability)
}

type receiveForm struct {
	MedicationID   int64  `json:"medication_id" validate:"required,gt=0"`
	SupplierID     int64  `json:"supplier_id" validate:"gte=0"`
	BatchNumber    string `json:"batch_number" validate:"max=64"`
	ProductionDate string `json:"production_date"`
	ExpiryDate     string `json:"expiry_date" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
}

type adjustForm struct {
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason" validate:"required,max=500"`
	Condition string `json:"condition" validate:"omitempty,oneof=damaged expired"`
}

// receiveInitialStock books opening stock straight into the ledger. Regular
// goods receipt goes through the procurement receive flow instead.
func (h *Handler) receiveInitialStock(w http.ResponseWriter, r *http.Request) {
	var form receiveForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("ledger: %s: %w", err, shared.ErrValidation))
		return
	}
	expiry, err := time.Parse("2006-01-02", form.ExpiryDate)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("ledger: invalid expiry_date: %w", shared.ErrValidation))
		return
	}
	input := ReceiveInput{
		MedicationID: form.MedicationID,
		SupplierID:   form.SupplierID,
		BatchNumber:  form.BatchNumber,
		ExpiryDate:   expiry,
		Quantity:     form.Quantity,
		Ref:          EventRef{Kind: EventInitialStock},
		Actor:        shared.ActorFromContext(r.Context()),
	}
	if form.ProductionDate != "" {
		produced, err := time.Parse("2006-01-02", form.ProductionDate)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("ledger: invalid production_date: %w", shared.ErrValidation))
			return
		}
		input.ProductionDate = &produced
	}
	batch, err := h.service.Receive(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("initial stock received",
		slog.Int64("batch_id", batch.ID),
		slog.Int64("medication_id", batch.MedicationID),
		slog.Int64("quantity", batch.RemainingQty))
	if h.metrics != nil {
		h.metrics.ObserveMovement(string(MovementIn))
	}
	httpx.Created(w, batch)
}

func (h *Handler) adjustBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form adjustForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("ledger: %s: %w", err, shared.ErrValidation))
		return
	}
	entry, err := h.service.Adjust(r.Context(), AdjustInput{
		BatchID:   batchID,
		Delta:     form.Delta,
		Reason:    form.Reason,
		Condition: form.Condition,
		Ref:       EventRef{Kind: EventAdjustment},
		Actor:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveMovement(string(entry.Kind))
	}
	httpx.Created(w, entry)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	medicationID, err := pathID(r, "medicationID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batches, err := h.service.QueryAvailable(r.Context(), medicationID, time.Now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var total int64
	for _, b := range batches {
		total += b.RemainingQty
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"medication_id": medicationID, "total": total, "batches": batches})
}

func (h *Handler) batchDetail(w http.ResponseWriter, r *http.Request) {
	batchID, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, status, err := h.service.BatchDetail(r.Context(), batchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batch": batch, "status": status})
}

func (h *Handler) batchMovements(w http.ResponseWriter, r *http.Request) {
	batchID, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.Movements(r.Context(), batchID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batch_id": batchID, "movements": entries})
}

func (h *Handler) expiringBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ExpiringBatches(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("ledger: invalid %s: %w", name, shared.ErrValidation)
	}
	return id, nil
}
