package variation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitecert-cpm/sitecert/internal/boq"
	"github.com/sitecert-cpm/sitecert/internal/platform/httpx"
	"github.com/sitecert-cpm/sitecert/internal/shared"
)

// Handler manages variation order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers variation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/variations", h.list)
	r.Post("/variations", h.create)
	r.Get("/variations/{id}", h.show)
	r.Delete("/variations/{id}", h.delete)
	r.Post("/variations/{id}/items", h.stageItem)
	r.Delete("/variations/{id}/items/{itemID}", h.removeItem)
	r.Post("/variations/{id}/submit", h.submit)
	r.Post("/variations/{id}/approve", h.approve)
	r.Post("/variations/{id}/reject", h.reject)
	r.Post("/variations/{id}/revise", h.revise)
}

type createDraftRequest struct {
	Title  string    `json:"title" validate:"required"`
	Reason string    `json:"reason"`
	Date   time.Time `json:"date"`
}

type stageItemRequest struct {
	BOQItemID     int64   `json:"boq_item_id"`
	IsNewItem     bool    `json:"is_new_item"`
	Description   string  `json:"description"`
	Unit          string  `json:"unit"`
	QuantityDelta float64 `json:"quantity_delta"`
	Rate          float64 `json:"rate" validate:"gte=0"`
}

type rejectRequest struct {
	Note string `json:"note"`
}

type approveResponse struct {
	Status   VOStatus      `json:"status"`
	Warnings []boq.Warning `json:"warnings,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	orders, total, err := h.service.List(r.Context(), projectID, limit, offset)
	if err != nil {
		h.logger.Error("list variation orders", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders":     orders,
		"pagination": shared.NewPagination(offset/limit+1, limit, total),
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	var req createDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	vo, err := h.service.CreateDraft(r.Context(), CreateDraftInput{
		ProjectID: projectID,
		Title:     req.Title,
		Reason:    req.Reason,
		Date:      req.Date,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, vo)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	vo, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vo)
}

func (h *Handler) stageItem(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req stageItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.service.StageItem(r.Context(), id, StageItemInput{
		BOQItemID:     req.BOQItemID,
		IsNewItem:     req.IsNewItem,
		Description:   req.Description,
		Unit:          req.Unit,
		QuantityDelta: req.QuantityDelta,
		Rate:          req.Rate,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	if err := h.service.RemoveItem(r.Context(), id, itemID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx *http.Request, id, actor int64) error {
		return h.service.Submit(ctx.Context(), id, actor)
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	warnings, err := h.service.Approve(r.Context(), id, actorID(r))
	if err != nil {
		h.logger.Error("approve variation order", slog.Any("error", err), slog.Int64("vo_id", id))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, approveResponse{Status: VOStatusApproved, Warnings: warnings})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req rejectRequest
	_ = httpx.DecodeJSON(r, &req)
	if err := h.service.Reject(r.Context(), id, actorID(r), req.Note); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revise(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx *http.Request, id, actor int64) error {
		return h.service.ReviseDraft(ctx.Context(), id, actor)
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx *http.Request, id, actor int64) error {
		return h.service.Delete(ctx.Context(), id, actor)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(*http.Request, int64, int64) error) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := fn(r, id, actorID(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound) || errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrUnknownBOQItem):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown BOQ Item", err.Error())
	case errors.Is(err, boq.ErrRevisionConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
