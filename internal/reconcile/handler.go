package reconcile

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes reconciliation reports. Advisory, read-only.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/inventory-gl", h.inventoryVsGL)
	r.Get("/closing/{periodID}", h.closingIdentity)
}

func (h *Handler) inventoryVsGL(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.DateQuery(r, "as_of", time.Now().UTC())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.InventoryVsGL(r.Context(), asOf)
	if err != nil {
		h.logger.Error("reconcile inventory vs gl", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !report.Difference.IsZero() {
		h.logger.Warn("inventory drift detected",
			slog.String("difference", report.Difference.String()),
			slog.Int("overlaps", len(report.Overlaps)))
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) closingIdentity(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.IDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	check, err := h.service.ClosingIdentity(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}
