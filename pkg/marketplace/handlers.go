package marketplace

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/plugbazaar/bazaar/pkg/httputil"
	"github.com/plugbazaar/bazaar/pkg/middleware"
	"github.com/plugbazaar/bazaar/pkg/observability"
)

// Handlers exposes the marketplace over HTTP
type Handlers struct {
	service *Service
	metrics *observability.Metrics
}

// NewHandlers creates marketplace HTTP handlers
func NewHandlers(service *Service, metrics *observability.Metrics) *Handlers {
	return &Handlers{service: service, metrics: metrics}
}

// RegisterRoutes mounts the handlers on their routers. Each router
// arrives with the right credential requirement already applied:
// public allows anonymous traffic, account requires an account token,
// apiScope requires an api token, pluginScope requires a plugin token.
func (h *Handlers) RegisterRoutes(public, account, apiScope, pluginScope *mux.Router) {
	public.HandleFunc("/plugins", h.ListPlugins).Methods("GET")
	public.HandleFunc("/plugins/{id}", h.GetPlugin).Methods("GET")
	public.HandleFunc("/plugins/{id}/versions", h.ListVersions).Methods("GET")
	public.HandleFunc("/plugins/{id}/reviews", h.ListReviews).Methods("GET")
	public.HandleFunc("/plugins/{id}/stats", h.GetStats).Methods("GET")
	public.HandleFunc("/plugins/{id}/download/{version}", h.Download).Methods("GET")

	account.HandleFunc("/plugins/{id}/reviews", h.SubmitReview).Methods("POST")

	apiScope.HandleFunc("/plugins", h.SubmitVersion).Methods("POST")

	pluginScope.HandleFunc("/plugins/{id}/usage", h.ReportUsage).Methods("POST")
	pluginScope.HandleFunc("/plugins/{id}/latest", h.LatestVersion).Methods("GET")
}

// ListPlugins handles GET /plugins
func (h *Handlers) ListPlugins(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.ParsePagination(r, 20, 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	req := &ListRequest{
		Category:  httputil.ParseQueryString(r, "category", ""),
		Search:    httputil.ParseQueryString(r, "search", ""),
		SortBy:    httputil.ParseQueryString(r, "sort_by", ""),
		SortOrder: httputil.ParseQueryString(r, "sort_order", ""),
		Limit:     limit,
		Offset:    offset,
	}

	resp, err := h.service.ListPlugins(r.Context(), req)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list plugins")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

// GetPlugin handles GET /plugins/{id}
func (h *Handlers) GetPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	plugin, err := h.service.GetPlugin(r.Context(), id)
	if errors.Is(err, ErrPluginNotFound) {
		httputil.WriteNotFoundError(w, "plugin not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to get plugin")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, plugin)
}

// ListVersions handles GET /plugins/{id}/versions
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	versions, err := h.service.ListVersions(r.Context(), id)
	if errors.Is(err, ErrPluginNotFound) {
		httputil.WriteNotFoundError(w, "plugin not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list versions")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"versions": versions})
}

// Download handles GET /plugins/{id}/download/{version}: records the
// download and redirects to the archive.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	version, ok := httputil.ParsePathStringOrError(w, r, "version")
	if !ok {
		return
	}

	url, err := h.service.RecordDownload(r.Context(), id, version)
	if errors.Is(err, ErrVersionNotFound) || errors.Is(err, ErrPluginNotFound) {
		httputil.WriteNotFoundError(w, "plugin version not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to record download")
		httputil.WriteInternalError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.DownloadsTotal.Inc()
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// SubmitVersion handles POST /plugins. The publisher identity comes
// from the api-scope principal, never from the request body.
func (h *Handlers) SubmitVersion(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req SubmitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	version, err := h.service.SubmitVersion(r.Context(), principal.ID, &req)
	switch {
	case errors.Is(err, ErrNotOwner):
		httputil.WriteForbidden(w, "plugin is owned by another publisher")
	case errors.Is(err, ErrVersionExists):
		httputil.WriteConflict(w, "version already published")
	case err != nil:
		observability.FromContext(r.Context()).WithError(err).Error("failed to submit version")
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithFields(map[string]interface{}{
			"plugin_id": req.ID,
			"version":   req.Version,
		}).Info("plugin version published")
		httputil.WriteCreated(w, version)
	}
}

// SubmitReview handles POST /plugins/{id}/reviews for account holders
func (h *Handlers) SubmitReview(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req ReviewRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	review, err := h.service.UpsertReview(r.Context(), id, principal.ID, &req)
	switch {
	case errors.Is(err, ErrPluginNotFound):
		httputil.WriteNotFoundError(w, "plugin not found")
	case errors.Is(err, ErrInvalidRating):
		httputil.WriteBadRequest(w, err.Error())
	case err != nil:
		observability.FromContext(r.Context()).WithError(err).Error("failed to submit review")
		httputil.WriteInternalError(w, err)
	default:
		httputil.WriteCreated(w, review)
	}
}

// ListReviews handles GET /plugins/{id}/reviews
func (h *Handlers) ListReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	limit, offset, err := httputil.ParsePagination(r, 20, 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	reviews, err := h.service.ListReviews(r.Context(), id, limit, offset)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list reviews")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"reviews": reviews})
}

// GetStats handles GET /plugins/{id}/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	days, err := httputil.ParseQueryInt(r, "days", 30)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.service.GetStats(r.Context(), id, days)
	if errors.Is(err, ErrPluginNotFound) {
		httputil.WriteNotFoundError(w, "plugin not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to get stats")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// requirePluginResource checks that a plugin-scope principal is acting
// on the plugin its credential is bound to.
func requirePluginResource(w http.ResponseWriter, r *http.Request, pluginID string) bool {
	principal, ok := middleware.GetPrincipal(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return false
	}
	if principal.GrantedResource != pluginID {
		httputil.WriteForbidden(w, "credential is not bound to this plugin")
		return false
	}
	return true
}

// ReportUsage handles POST /plugins/{id}/usage from installed plugins
func (h *Handlers) ReportUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if !requirePluginResource(w, r, id) {
		return
	}

	observability.FromContext(r.Context()).WithField("plugin_id", id).Debug("usage ping")
	httputil.WriteNoContent(w)
}

// LatestVersion handles GET /plugins/{id}/latest for installed plugins
// checking for updates.
func (h *Handlers) LatestVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if !requirePluginResource(w, r, id) {
		return
	}

	versions, err := h.service.ListVersions(r.Context(), id)
	if errors.Is(err, ErrPluginNotFound) {
		httputil.WriteNotFoundError(w, "plugin not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to resolve latest version")
		httputil.WriteInternalError(w, err)
		return
	}
	if len(versions) == 0 {
		httputil.WriteNotFoundError(w, "plugin has no published versions")
		return
	}
	httputil.WriteSuccess(w, versions[0])
}
