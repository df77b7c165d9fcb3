package insights

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/apotek-pos/apotek-pos/internal/platform/httpx"
)

// Handler serves basket-analysis endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs the insights handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes registers insights routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/insights", func(r chi.Router) {
		r.Get("/basket", h.basketAnalysis)
		r.Get("/recommendations", h.recommendations)
	})
}

func queryInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(name))
	return v
}

func (h *Handler) basketAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.service.BasketAnalysis(r.Context(), queryInt(r, "days"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, analysis)
}

func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	var items []string
	for _, code := range strings.Split(r.URL.Query().Get("items"), ",") {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			items = append(items, code)
		}
	}
	recs, err := h.service.Recommendations(r.Context(), items, queryInt(r, "days"), queryInt(r, "top"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "recommendations": recs})
}
