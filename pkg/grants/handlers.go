package grants

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/plugbazaar/bazaar/pkg/httputil"
)

// Handlers exposes the authority's entitlement check and its admin
// grant management endpoints.
type Handlers struct {
	store  Store
	logger *logrus.Logger
}

// NewHandlers creates authority HTTP handlers
func NewHandlers(store Store, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{store: store, logger: logger}
}

// RegisterRoutes mounts the authority endpoints
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.Healthz).Methods("GET")
	router.HandleFunc("/api/v1/entitlements/{principal}/{resource}", h.CheckEntitlement).Methods("GET")
	router.HandleFunc("/api/v1/grants", h.CreateGrant).Methods("POST")
	router.HandleFunc("/api/v1/grants/{principal}/{resource}", h.RevokeGrant).Methods("DELETE")
	router.HandleFunc("/api/v1/grants/{principal}", h.ListGrants).Methods("GET")
}

// Healthz handles GET /healthz
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// CheckEntitlement handles GET /api/v1/entitlements/{principal}/{resource}.
// The contract is status-only: 204 affirms the grant, 403 denies it,
// and any 5xx tells the caller the answer is unknown.
func (h *Handlers) CheckEntitlement(w http.ResponseWriter, r *http.Request) {
	principal, ok := httputil.ParsePathStringOrError(w, r, "principal")
	if !ok {
		return
	}
	resource, ok := httputil.ParsePathStringOrError(w, r, "resource")
	if !ok {
		return
	}

	granted, err := h.store.HasGrant(r.Context(), principal, resource)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"principal": principal,
			"resource":  resource,
		}).Error("grant lookup failed")
		httputil.WriteServiceUnavailable(w, "grant store unavailable")
		return
	}

	if !granted {
		httputil.WriteForbidden(w, "not entitled")
		return
	}
	httputil.WriteNoContent(w)
}

type grantRequest struct {
	PrincipalID string `json:"principal_id"`
	ResourceID  string `json:"resource_id"`
}

// CreateGrant handles POST /api/v1/grants
func (h *Handlers) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PrincipalID, "principal_id") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ResourceID, "resource_id") {
		return
	}

	if err := h.store.Grant(r.Context(), req.PrincipalID, req.ResourceID); err != nil {
		h.logger.WithError(err).Error("failed to create grant")
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"principal": req.PrincipalID,
		"resource":  req.ResourceID,
	}).Info("grant created")
	httputil.WriteCreated(w, map[string]string{
		"principal_id": req.PrincipalID,
		"resource_id":  req.ResourceID,
	})
}

// RevokeGrant handles DELETE /api/v1/grants/{principal}/{resource}
func (h *Handlers) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	principal, ok := httputil.ParsePathStringOrError(w, r, "principal")
	if !ok {
		return
	}
	resource, ok := httputil.ParsePathStringOrError(w, r, "resource")
	if !ok {
		return
	}

	err := h.store.Revoke(r.Context(), principal, resource)
	if errors.Is(err, ErrGrantNotFound) {
		httputil.WriteNotFoundError(w, "grant not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to revoke grant")
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"principal": principal,
		"resource":  resource,
	}).Info("grant revoked")
	httputil.WriteNoContent(w)
}

// ListGrants handles GET /api/v1/grants/{principal}
func (h *Handlers) ListGrants(w http.ResponseWriter, r *http.Request) {
	principal, ok := httputil.ParsePathStringOrError(w, r, "principal")
	if !ok {
		return
	}

	grants, err := h.store.ListByPrincipal(r.Context(), principal)
	if err != nil {
		h.logger.WithError(err).Error("failed to list grants")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"grants": grants})
}
