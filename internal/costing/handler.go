package costing

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the cost engine over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/boms/{id}/roll-up", h.rollUp)
	r.Get("/orders/{id}/cost", h.orderCost)
	r.Post("/orders/{id}/backflush", h.backflush)
}

type rollUpRequest struct {
	// Apply persists the rolled-up unit cost onto the output variant.
	Apply bool `json:"apply"`
}

type backflushRequest struct {
	ProducedQuantity decimal.Decimal `json:"produced_quantity" validate:"required"`
	LocationID       int64           `json:"location_id" validate:"required"`
}

func (h *Handler) rollUp(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req rollUpRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
			return
		}
	}

	var result RollUpResult
	if req.Apply {
		result, err = h.service.ApplyStandardCost(r.Context(), id, shared.ActorFromContext(r.Context()))
	} else {
		result, err = h.service.RollUpStandardCost(r.Context(), id)
	}
	if err != nil {
		h.logger.Warn("roll up bom", slog.Int64("bom_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if len(result.Warnings) > 0 {
		h.logger.Info("roll up fallbacks used",
			slog.Int64("bom_id", id),
			slog.Int("warnings", len(result.Warnings)))
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) orderCost(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cost, err := h.service.CalculateOrderCost(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cost)
}

func (h *Handler) backflush(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req backflushRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err))
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if err := h.service.BackflushMaterials(r.Context(), id, req.ProducedQuantity, req.LocationID, actor); err != nil {
		h.logger.Warn("backflush", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	cost, err := h.service.CalculateOrderCost(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cost)
}
