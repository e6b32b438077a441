package identity

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vantage-c2/vantage/internal/platform/httpx"
	"github.com/vantage-c2/vantage/internal/shared"
)

// Handler exposes the identity operation surface over HTTP. Routes are gated
// by the capability matching their operation name.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    func(op string) func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. guard produces the per-operation
// capability middleware.
func NewHandler(logger *slog.Logger, service *Service, guard func(op string) func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		guard:    guard,
	}
}

// MountRoutes registers identity routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard("create_user")).Post("/users", h.CreateUser)
	r.With(h.guard("list_users")).Get("/users", h.ListUsers)
	r.With(h.guard("get_user")).Get("/users/{username}", h.GetUser)
	r.With(h.guard("delete_user")).Delete("/users/{username}", h.DeleteUser)
	r.With(h.guard("update_user_password")).Post("/users/password", h.UpdatePassword)

	r.With(h.guard("create_role")).Post("/roles", h.CreateRole)
	r.With(h.guard("list_roles")).Get("/roles", h.ListRoles)
	r.With(h.guard("get_role")).Get("/roles/{roleName}", h.GetRole)
	r.With(h.guard("delete_role")).Delete("/roles/{roleName}", h.DeleteRole)
	r.With(h.guard("update_role_permissions")).Put("/roles/{roleName}/permissions", h.UpdateRolePermissions)
	r.With(h.guard("add_role_member")).Put("/roles/{roleName}/members/{username}", h.AddRoleMember)
	r.With(h.guard("remove_role_member")).Delete("/roles/{roleName}/members/{username}", h.RemoveRoleMember)

	r.With(h.guard("create_api_key")).Post("/keys", h.CreateAPIKey)
	r.With(h.guard("list_api_keys")).Get("/keys", h.ListAPIKeys)
	r.With(h.guard("revoke_api_key")).Delete("/keys/{keyID}", h.RevokeAPIKey)

	r.Get("/whoami", h.Whoami)
}

func (h *Handler) decode(r *http.Request, target any) error {
	// An absent body is an empty request; validation decides whether that is
	// acceptable for the operation.
	if err := httpx.DecodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", shared.ErrMalformedRequest, err)
	}
	if err := h.validate.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrMalformedRequest, err)
	}
	return nil
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=2,max=64"`
	Password string `json:"password" validate:"required,min=8"`
}

// CreateUser implements create_user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	var req createUserRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.CreateUser(r.Context(), actx, req.Username, req.Password); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, nil)
}

// GetUser implements get_user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	includeRoles := r.URL.Query().Get("include_roles") == "true"
	includeCalls := r.URL.Query().Get("include_api_calls") != "false"
	doc, err := h.service.GetUser(r.Context(), chi.URLParam(r, "username"), includeRoles, includeCalls)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"user": doc})
}

// ListUsers implements list_users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	includeRoles := r.URL.Query().Get("include_roles") == "true"
	includeCalls := r.URL.Query().Get("include_api_calls") != "false"
	docs, err := h.service.ListUsers(r.Context(), includeRoles, includeCalls)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"users": docs})
}

// DeleteUser implements delete_user.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	if err := h.service.DeleteUser(r.Context(), actx, chi.URLParam(r, "username")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// UpdatePassword implements update_user_password. Impersonation via
// user_context is handled by credential resolution, so an administrator can
// reset a non-administrator's password without the current one.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	var req updatePasswordRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.UpdatePassword(r.Context(), actx, req.CurrentPassword, req.NewPassword); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

type createRoleRequest struct {
	Name            string   `json:"name" validate:"required,min=2,max=64"`
	AllowedAPICalls []string `json:"allowed_api_calls" validate:"required"`
	Users           []string `json:"users"`
}

// CreateRole implements create_role.
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	var req createRoleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.CreateRole(r.Context(), actx, req.Name, req.AllowedAPICalls, req.Users); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, nil)
}

// GetRole implements get_role.
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetRole(r.Context(), chi.URLParam(r, "roleName"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"role": doc})
}

// ListRoles implements list_roles.
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"roles": docs})
}

// DeleteRole implements delete_role.
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	if err := h.service.DeleteRole(r.Context(), actx, chi.URLParam(r, "roleName")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

type updateRolePermissionsRequest struct {
	AllowedAPICalls []string `json:"allowed_api_calls" validate:"required"`
}

// UpdateRolePermissions implements update_role_permissions.
func (h *Handler) UpdateRolePermissions(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	var req updateRolePermissionsRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.UpdateRolePermissions(r.Context(), actx, chi.URLParam(r, "roleName"), req.AllowedAPICalls); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

// AddRoleMember implements add_role_member.
func (h *Handler) AddRoleMember(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	if err := h.service.AddRoleMember(r.Context(), actx, chi.URLParam(r, "roleName"), chi.URLParam(r, "username")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

// RemoveRoleMember implements remove_role_member.
func (h *Handler) RemoveRoleMember(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	if err := h.service.RemoveRoleMember(r.Context(), actx, chi.URLParam(r, "roleName"), chi.URLParam(r, "username")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

type createAPIKeyRequest struct {
	AllowedAPICalls []string `json:"allowed_api_calls"`
}

// CreateAPIKey implements create_api_key. The raw secret appears in this
// response and nowhere else, ever.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	var req createAPIKeyRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	secret, err := h.service.CreateAPIKey(r.Context(), actx, req.AllowedAPICalls)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"api_key": secret})
}

// ListAPIKeys implements list_api_keys.
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	docs, err := h.service.ListAPIKeys(r.Context(), actx)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"api_keys": docs})
}

// RevokeAPIKey implements revoke_api_key.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	actx, _ := AuthFromContext(r.Context())
	if err := h.service.RevokeAPIKey(r.Context(), actx, chi.URLParam(r, "keyID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

// Whoami implements whoami: every authenticated caller may ask who it is.
func (h *Handler) Whoami(w http.ResponseWriter, r *http.Request) {
	actx, ok := AuthFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrAuthenticationFailed)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"user": h.service.Whoami(actx)})
}
