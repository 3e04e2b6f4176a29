package users

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/plugbazaar/bazaar/pkg/httputil"
	"github.com/plugbazaar/bazaar/pkg/middleware"
	"github.com/plugbazaar/bazaar/pkg/observability"
)

// Handlers exposes account profiles over HTTP
type Handlers struct {
	service *Service
}

// NewHandlers creates user HTTP handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the handlers. The account router requires an
// account-scope credential; public profiles are readable anonymously.
func (h *Handlers) RegisterRoutes(public, account *mux.Router) {
	public.HandleFunc("/users/{username}", h.GetProfile).Methods("GET")

	account.HandleFunc("/me", h.Me).Methods("GET")
	account.HandleFunc("/me", h.UpdateMe).Methods("PUT")
}

// GetProfile handles GET /users/{username}
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	user, err := h.service.GetByUsername(r.Context(), username)
	if errors.Is(err, ErrUserNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to get user")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, user.Public())
}

// Me handles GET /me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.service.Get(r.Context(), principal.ID)
	if errors.Is(err, ErrUserNotFound) {
		httputil.WriteNotFoundError(w, "account not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to get account")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// UpdateMe handles PUT /me; accounts can only edit themselves
func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req UpdateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), principal.ID, &req)
	if errors.Is(err, ErrUserNotFound) {
		httputil.WriteNotFoundError(w, "account not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to update profile")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}
