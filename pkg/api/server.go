// Package api assembles the gateway HTTP server: routers, middleware
// chain, and the credential requirements of each route group.
package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/plugbazaar/bazaar/pkg/config"
	"github.com/plugbazaar/bazaar/pkg/httputil"
	"github.com/plugbazaar/bazaar/pkg/marketplace"
	"github.com/plugbazaar/bazaar/pkg/middleware"
	"github.com/plugbazaar/bazaar/pkg/observability"
	"github.com/plugbazaar/bazaar/pkg/token"
	"github.com/plugbazaar/bazaar/pkg/users"
)

const maxRequestBody = 32 << 20 // plugin archives arrive inline

// Server is the assembled gateway
type Server struct {
	router  *mux.Router
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Deps are the constructed components the server mounts
type Deps struct {
	Security    *middleware.SecurityContext
	RateLimit   *middleware.RateLimitMiddleware
	Marketplace *marketplace.Handlers
	Users       *users.Handlers
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// NewServer builds the gateway router.
//
// Route groups and their credential requirements:
//
//	public       optional account token; anonymous browsing is allowed
//	account      account token required (reviews, profile)
//	api          api token required (publishing)
//	pluginScope  plugin token required (usage pings, update checks)
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewDefaultLogger()
	}

	router := mux.NewRouter()

	chain := []mux.MiddlewareFunc{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
	}
	if deps.Metrics != nil {
		chain = append(chain, deps.Metrics.HTTPMiddleware)
	}
	chain = append(chain,
		observability.RecoveryMiddleware(logger),
		httputil.CORSMiddleware([]string{"*"}),
		httputil.MaxBytesMiddleware(maxRequestBody),
	)
	router.Use(chain...)

	base := router.PathPrefix("/api/v1").Subrouter()

	public := base.NewRoute().Subrouter()
	public.Use(deps.Security.Optional(token.ScopeAccount))

	account := base.NewRoute().Subrouter()
	account.Use(deps.Security.Require(token.ScopeAccount))

	apiScope := base.NewRoute().Subrouter()
	apiScope.Use(deps.Security.Require(token.ScopeAPI))

	pluginScope := base.NewRoute().Subrouter()
	pluginScope.Use(deps.Security.Require(token.ScopePlugin))

	// rate limiting runs after auth so authenticated principals get
	// their own budget
	if deps.RateLimit != nil {
		for _, r := range []*mux.Router{public, account, apiScope, pluginScope} {
			r.Use(deps.RateLimit.Handler)
		}
	}

	deps.Marketplace.RegisterRoutes(public, account, apiScope, pluginScope)
	deps.Users.RegisterRoutes(public, account)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})

	return &Server{router: router, logger: logger, metrics: deps.Metrics}
}

// Router returns the assembled handler
func (s *Server) Router() http.Handler {
	return s.router
}

// NewHTTPServer wraps the router in an http.Server with the configured
// timeouts
func (s *Server) NewHTTPServer(cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
