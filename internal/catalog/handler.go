package catalog

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek-pos/internal/platform/httpx"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// Handler wires HTTP endpoints for the catalog module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/medications", func(r chi.Router) {
		r.Get("/", h.listMedications)
		r.Post("/", h.createMedication)
		r.Get("/{id}", h.getMedication)
		r.Put("/{id}", h.updateMedication)
		r.Delete("/{id}", h.deactivateMedication)
	})
	r.Route("/suppliers", func(r chi.Router) {
		r.Get("/", h.listSuppliers)
		r.Post("/", h.createSupplier)
		r.Get("/{id}", h.getSupplier)
		r.Put("/{id}", h.updateSupplier)
	})
}

type medicationForm struct {
	Code          string `json:"code" validate:"required,max=32"`
	Name          string `json:"name" validate:"required,max=255"`
	Category      string `json:"category" validate:"max=100"`
	DosageForm    string `json:"dosage_form" validate:"max=100"`
	LegalSchedule string `json:"legal_schedule" validate:"required"`
	Unit          string `json:"unit" validate:"required,max=32"`
	PurchasePrice string `json:"purchase_price" validate:"required"`
	SalePrice     string `json:"sale_price" validate:"required"`
}

func (f medicationForm) toModel() (Medication, error) {
	purchase, err := decimal.NewFromString(f.PurchasePrice)
	if err != nil {
		return Medication{}, fmt.Errorf("catalog: invalid purchase_price: %w", shared.ErrValidation)
	}
	sale, err := decimal.NewFromString(f.SalePrice)
	if err != nil {
		return Medication{}, fmt.Errorf("catalog: invalid sale_price: %w", shared.ErrValidation)
	}
	return Medication{
		Code:          f.Code,
		Name:          f.Name,
		Category:      f.Category,
		DosageForm:    f.DosageForm,
		LegalSchedule: LegalSchedule(f.LegalSchedule),
		Unit:          f.Unit,
		PurchasePrice: purchase,
		SalePrice:     sale,
		IsActive:      true,
	}, nil
}

type supplierForm struct {
	Code    string `json:"code" validate:"required,max=32"`
	Name    string `json:"name" validate:"required,max=255"`
	Address string `json:"address" validate:"max=500"`
	Phone   string `json:"phone" validate:"max=32"`
}

func (h *Handler) listMedications(w http.ResponseWriter, r *http.Request) {
	filters := parseListFilters(r)
	items, total, err := h.service.ListMedications(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": shared.NewPagination(filters.Page, filters.Limit, total)})
}

func (h *Handler) getMedication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	med, err := h.service.GetMedication(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, med)
}

func (h *Handler) createMedication(w http.ResponseWriter, r *http.Request) {
	var form medicationForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("catalog: %s: %w", err, shared.ErrValidation))
		return
	}
	med, err := form.toModel()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.CreateMedication(r.Context(), med)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("medication created", slog.Int64("id", created.ID), slog.String("code", created.Code))
	httpx.Created(w, created)
}

func (h *Handler) updateMedication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form medicationForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("catalog: %s: %w", err, shared.ErrValidation))
		return
	}
	med, err := form.toModel()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.UpdateMedication(r.Context(), id, med)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) deactivateMedication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeactivateMedication(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "is_active": false})
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	filters := parseListFilters(r)
	items, total, err := h.service.ListSuppliers(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": shared.NewPagination(filters.Page, filters.Limit, total)})
}

func (h *Handler) getSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sup, err := h.service.GetSupplier(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sup)
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	var form supplierForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("catalog: %s: %w", err, shared.ErrValidation))
		return
	}
	created, err := h.service.CreateSupplier(r.Context(), Supplier{
		Code: form.Code, Name: form.Name, Address: form.Address, Phone: form.Phone, IsActive: true,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("supplier created", slog.Int64("id", created.ID), slog.String("code", created.Code))
	httpx.Created(w, created)
}

func (h *Handler) updateSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form supplierForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, fmt.Errorf("catalog: %s: %w", err, shared.ErrValidation))
		return
	}
	if err := h.service.UpdateSupplier(r.Context(), id, Supplier{
		Code: form.Code, Name: form.Name, Address: form.Address, Phone: form.Phone, IsActive: true,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sup, err := h.service.GetSupplier(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sup)
}

func parseListFilters(r *http.Request) ListFilters {
	q := r.URL.Query()
	filters := ListFilters{Search: q.Get("search"), Category: q.Get("category")}
	if active := q.Get("active"); active != "" {
		v := active == "true" || active == "1"
		filters.IsActive = &v
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	return filters
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("catalog: invalid id: %w", shared.ErrValidation)
	}
	return id, nil
}
