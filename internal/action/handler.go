package action

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vantage-c2/vantage/internal/identity"
	"github.com/vantage-c2/vantage/internal/platform/httpx"
	"github.com/vantage-c2/vantage/internal/shared"
)

// Handler exposes the action operation surface over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    func(op string) func(http.Handler) http.Handler
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, guard func(op string) func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		guard:    guard,
	}
}

// MountRoutes registers action routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard("create_action")).Post("/actions", h.Create)
	r.With(h.guard("list_actions")).Get("/actions", h.List)
	r.With(h.guard("get_action")).Get("/actions/{actionID}", h.Get)
	r.With(h.guard("cancel_action")).Delete("/actions/{actionID}", h.Cancel)
	r.With(h.guard("duplicate_action")).Post("/actions/{actionID}/duplicate", h.Duplicate)
}

type createActionRequest struct {
	TargetName     string `json:"target_name" validate:"required"`
	ActionString   string `json:"action_string" validate:"required"`
	BoundSessionID string `json:"bound_session_id"`
	ActionID       string `json:"action_id"`
	Quick          bool   `json:"quick"`
}

// Create implements create_action.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actx, _ := identity.AuthFromContext(r.Context())
	var req createActionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrMalformedRequest, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrMalformedRequest, err))
		return
	}

	actionID, err := h.service.Create(r.Context(), actx, CreateParams{
		TargetName:     req.TargetName,
		ActionString:   req.ActionString,
		BoundSessionID: req.BoundSessionID,
		ActionID:       req.ActionID,
		Quick:          req.Quick,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"action_id": actionID})
}

// Get implements get_action.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"action": doc})
}

// Cancel implements cancel_action.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actx, _ := identity.AuthFromContext(r.Context())
	if err := h.service.Cancel(r.Context(), actx, chi.URLParam(r, "actionID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

// List implements list_actions with owner/target filters and limit/offset
// pagination.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	docs, err := h.service.List(r.Context(), Filter{
		Owner:      r.URL.Query().Get("owner"),
		TargetName: r.URL.Query().Get("target_name"),
		Page:       shared.NewPage(limit, offset),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"actions": docs})
}

// queryInt reads an optional integer query parameter, rejecting non-numeric
// values instead of silently treating them as zero.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", shared.ErrMalformedRequest, name)
	}
	return v, nil
}

// Duplicate implements duplicate_action.
func (h *Handler) Duplicate(w http.ResponseWriter, r *http.Request) {
	actx, _ := identity.AuthFromContext(r.Context())
	actionID, err := h.service.Duplicate(r.Context(), actx, chi.URLParam(r, "actionID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"action_id": actionID})
}
