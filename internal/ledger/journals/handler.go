package journals

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/accounts"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the journal ledger over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	accounts *accounts.Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, accountsSvc *accounts.Service) *Handler {
	return &Handler{logger: logger, service: service, accounts: accountsSvc, validate: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/batch-post", h.batchPost)
	r.Get("/{id}", h.get)
	r.Post("/{id}/post", h.post)
	r.Post("/{id}/void", h.void)
	r.Post("/{id}/reverse", h.reverse)
}

type lineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

type createEntryRequest struct {
	Date          string        `json:"date" validate:"required"`
	Description   string        `json:"description"`
	Reference     string        `json:"reference" validate:"required"`
	ReferenceType string        `json:"reference_type" validate:"required"`
	ReferenceID   string        `json:"reference_id"`
	Status        string        `json:"status" validate:"omitempty,oneof=DRAFT POSTED"`
	Lines         []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

type voidRequest struct {
	Reason string `json:"reason"`
}

type reverseRequest struct {
	Memo string `json:"memo"`
}

type batchPostRequest struct {
	EntryIDs []int64 `json:"entry_ids" validate:"required,min=1"`
}

type batchPostProblem struct {
	httpx.ProblemDetail
	Failures []BatchFailure `json:"failures"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.IntQuery(r, "limit", 50)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	offset, err := httpx.IntQuery(r, "offset", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err))
		return
	}
	input, err := req.toInput(shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.CreateEntry(r.Context(), input)
	if err != nil {
		h.logger.Warn("create entry", slog.String("reference", req.Reference), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (req createEntryRequest) toInput(actorID int64) (CreateEntryInput, error) {
	date, err := time.Parse(httpx.DateLayout, req.Date)
	if err != nil {
		return CreateEntryInput{}, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, req.Date)
	}
	refID := uuid.Nil
	if req.ReferenceID != "" {
		refID, err = uuid.Parse(req.ReferenceID)
		if err != nil {
			return CreateEntryInput{}, fmt.Errorf("%w: invalid reference id", shared.ErrValidation)
		}
	}
	status := JournalStatus(req.Status)
	if status == "" {
		status = JournalStatusDraft
	}
	input := CreateEntryInput{
		Date:          date.UTC(),
		Description:   req.Description,
		Reference:     req.Reference,
		ReferenceType: ReferenceType(req.ReferenceType),
		ReferenceID:   refID,
		Status:        status,
		CreatedBy:     actorID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		})
	}
	return input, nil
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.PostEntry(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("post entry", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	entry, err := h.service.VoidEntry(r.Context(), VoidInput{
		EntryID: id,
		ActorID: shared.ActorFromContext(r.Context()),
		Reason:  req.Reason,
	})
	if err != nil {
		h.logger.Warn("void entry", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	entry, err := h.service.ReverseEntry(r.Context(), ReverseInput{
		EntryID: id,
		ActorID: shared.ActorFromContext(r.Context()),
		Memo:    req.Memo,
	})
	if err != nil {
		h.logger.Warn("reverse entry", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) batchPost(w http.ResponseWriter, r *http.Request) {
	var req batchPostRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err))
		return
	}
	posted, err := h.service.BatchPost(r.Context(), req.EntryIDs, shared.ActorFromContext(r.Context()))
	if err != nil {
		var batchErr *BatchError
		if errors.As(err, &batchErr) {
			httpx.JSON(w, http.StatusUnprocessableEntity, batchPostProblem{
				ProblemDetail: httpx.ProblemDetail{
					Title:  "Batch Aborted",
					Status: http.StatusUnprocessableEntity,
					Detail: batchErr.Error(),
				},
				Failures: batchErr.Failures,
			})
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, posted)
}

// AccountBalanceHandler returns the signed balance of one account as of a
// date, in its normal-side convention.
func (h *Handler) AccountBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := httpx.DateQuery(r, "as_of", time.Now().UTC())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.AccountBalance(r.Context(), id, asOf, account.Type.NormalSide())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"account_id":  account.ID,
		"code":        account.Code,
		"as_of":       asOf.Format(httpx.DateLayout),
		"normal_side": account.Type.NormalSide(),
		"balance":     balance,
	})
}
