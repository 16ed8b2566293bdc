package stock

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the stock movement ledger over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.recordMovement)
	r.Post("/adjustments/bulk", h.bulkAdjust)
	r.Get("/ledger/{variantID}", h.ledger)
	r.Get("/available", h.available)
	r.Post("/reservations", h.reserve)
	r.Post("/reservations/{id}/cancel", h.cancelReservation)
}

type bulkAdjustProblem struct {
	httpx.ProblemDetail
	Failures []BulkFailure `json:"failures"`
}

type ledgerResponse struct {
	Opening any         `json:"opening_balance"`
	Rows    []LedgerRow `json:"rows"`
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var input MovementInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	result, err := h.service.RecordMovement(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("record movement",
			slog.String("type", string(input.Type)),
			slog.Int64("variant", input.ProductVariantID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) bulkAdjust(w http.ResponseWriter, r *http.Request) {
	var input BulkAdjustInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err))
		return
	}
	results, err := h.service.BulkAdjust(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		var bulkErr *BulkError
		if errors.As(err, &bulkErr) {
			httpx.JSON(w, http.StatusUnprocessableEntity, bulkAdjustProblem{
				ProblemDetail: httpx.ProblemDetail{
					Title:  "Bulk Adjustment Aborted",
					Status: http.StatusUnprocessableEntity,
					Detail: bulkErr.Error(),
				},
				Failures: bulkErr.Failures,
			})
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, results)
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	variantID, err := httpx.IDParam(r, "variantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	now := time.Now().UTC()
	from, err := httpx.DateQuery(r, "from", now.AddDate(0, -1, 0))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.DateQuery(r, "to", now)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := LedgerFilter{ProductVariantID: variantID, From: from, To: to.Add(24*time.Hour - time.Nanosecond)}
	if raw := r.URL.Query().Get("location_id"); raw != "" {
		loc, err := httpx.IntQuery(r, "location_id", 0)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		locID := int64(loc)
		filter.LocationID = &locID
	}

	rows, opening, err := h.service.Ledger(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledgerResponse{Opening: opening, Rows: rows})
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) {
	location, err := httpx.IntQuery(r, "location_id", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	variant, err := httpx.IntQuery(r, "product_variant_id", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if location == 0 || variant == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: location_id and product_variant_id required", shared.ErrValidation))
		return
	}
	qty, err := h.service.Available(r.Context(), int64(location), int64(variant))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"location_id":        location,
		"product_variant_id": variant,
		"available":          qty,
	})
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var input ReserveInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	res, err := h.service.Reserve(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.CancelReservation(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
