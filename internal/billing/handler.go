package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitecert-cpm/sitecert/internal/boq"
	"github.com/sitecert-cpm/sitecert/internal/observability"
	"github.com/sitecert-cpm/sitecert/internal/platform/httpx"
	"github.com/sitecert-cpm/sitecert/internal/shared"
)

// Handler manages interim payment certificate endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics, validator: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bills", h.list)
	r.Post("/bills", h.save)
	r.Post("/bills/preview", h.preview)
	r.Get("/bills/latest", h.latest)
	r.Get("/bills/latest/summary", h.latestSummary)
	r.Get("/bills/{id}", h.show)
	r.Post("/bills/{id}/issue", h.issue)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	bills, total, err := h.service.List(r.Context(), projectID, limit, offset)
	if err != nil {
		h.logger.Error("list contract bills", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"bills":      bills,
		"pagination": shared.NewPagination(offset/limit+1, limit, total),
	})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeDraft(w, r)
	if !ok {
		return
	}
	bill, err := h.service.Preview(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeDraft(w, r)
	if !ok {
		return
	}
	bill, err := h.service.Save(r.Context(), input)
	if err != nil {
		h.logger.Error("save contract bill", slog.Any("error", err), slog.Int64("project_id", input.ProjectID))
		h.respondError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.CountBillSaved("contract")
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	bill, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	bill, err := h.service.Latest(r.Context(), projectID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) latestSummary(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	summary, err := h.service.LatestSummary(r.Context(), projectID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.Issue(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeDraft(w http.ResponseWriter, r *http.Request) (DraftInput, bool) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return DraftInput{}, false
	}
	var input DraftInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return DraftInput{}, false
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return DraftInput{}, false
	}
	input.ProjectID = projectID
	input.ActorID = actorID(r)
	return input, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrNegativeCertificate):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Negative Certificate", err.Error())
	case errors.Is(err, ErrUnknownBOQItem):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown BOQ Item", err.Error())
	case errors.Is(err, ErrNegativeQuantity) || errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, boq.ErrRevisionConflict):
		if h.metrics != nil {
			h.metrics.CountRegisterConflict()
		}
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func projectIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
