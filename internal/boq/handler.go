package boq

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitecert-cpm/sitecert/internal/platform/httpx"
)

// Handler manages BOQ endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers BOQ routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/boq", h.showRegister)
	r.Post("/boq/items", h.createItem)
}

type createItemRequest struct {
	ItemNo           string  `json:"item_no"`
	Description      string  `json:"description" validate:"required"`
	Unit             string  `json:"unit" validate:"required,max=20"`
	ContractQuantity float64 `json:"contract_quantity" validate:"gte=0"`
	Rate             float64 `json:"rate" validate:"gte=0"`
}

func (h *Handler) showRegister(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	reg, err := h.service.GetRegister(r.Context(), projectID)
	if err != nil {
		h.logger.Error("load register", slog.Any("error", err))
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reg)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid project id")
		return
	}
	var req createItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.service.CreateItem(r.Context(), CreateItemInput{
		ProjectID:        projectID,
		ItemNo:           req.ItemNo,
		Description:      req.Description,
		Unit:             req.Unit,
		ContractQuantity: req.ContractQuantity,
		Rate:             req.Rate,
	})
	if err != nil {
		h.logger.Error("create boq item", slog.Any("error", err))
		respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRegisterNotFound) || errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRevisionConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func projectIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
}
