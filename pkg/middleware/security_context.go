// Package middleware provides the HTTP-facing security layer: it
// resolves credentials from request headers through the authorization
// pipeline and attaches the resulting principal to the request context.
package middleware

import (
	"context"
	"net/http"

	"github.com/plugbazaar/bazaar/pkg/authz"
	"github.com/plugbazaar/bazaar/pkg/contextkeys"
	"github.com/plugbazaar/bazaar/pkg/httputil"
	"github.com/plugbazaar/bazaar/pkg/observability"
	"github.com/plugbazaar/bazaar/pkg/token"
)

const (
	// AuthorizationHeader carries account and api credentials
	AuthorizationHeader = "Authorization"
	// PluginTokenHeader carries installed-plugin credentials
	PluginTokenHeader = "X-Bazaar-Plugin-Token"
)

// Authorizer runs a credential through the authorization pipeline
type Authorizer interface {
	Authorize(ctx context.Context, rawCredential string, scope token.Scope) (*authz.Principal, error)
}

// SecurityContext resolves request credentials into principals
type SecurityContext struct {
	authorizer Authorizer
	logger     *observability.Logger
}

// NewSecurityContext creates a security context resolver
func NewSecurityContext(authorizer Authorizer, logger *observability.Logger) *SecurityContext {
	if logger == nil {
		logger = observability.NewDefaultLogger()
	}
	return &SecurityContext{authorizer: authorizer, logger: logger}
}

// Require enforces a credential of the given scope. Requests that fail
// any pipeline stage are rejected with the status for that failure.
func (s *SecurityContext) Require(scope token.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := s.credentialFor(r, scope)

			principal, err := s.authorizer.Authorize(r.Context(), raw, scope)
			if err != nil {
				s.writeAuthError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

// Optional resolves a credential when one is present but lets
// anonymous requests through. A presented credential that fails
// validation is still rejected; optional means the header may be
// absent, not that bad credentials are ignored.
func (s *SecurityContext) Optional(scope token.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := s.credentialFor(r, scope)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := s.authorizer.Authorize(r.Context(), raw, scope)
			if err != nil {
				s.writeAuthError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

// credentialFor extracts the raw credential for a scope. Plugin tokens
// travel in their own header; account and api tokens are bearer
// credentials.
func (s *SecurityContext) credentialFor(r *http.Request, scope token.Scope) string {
	if scope == token.ScopePlugin {
		return r.Header.Get(PluginTokenHeader)
	}
	raw, ok := token.ResolveBearer(r.Header.Get(AuthorizationHeader))
	if !ok {
		return ""
	}
	return raw
}

// writeAuthError maps a pipeline rejection to its HTTP response.
// Policy denials are 403, credential problems are 401 or 400, and an
// unreachable dependency is 503 with a retry hint so clients do not
// treat the outage as a lost entitlement.
func (s *SecurityContext) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := authz.KindOf(err)
	if !ok {
		observability.FromContext(r.Context()).WithError(err).Error("authorization failed without classification")
		httputil.WriteInternalError(w, err)
		return
	}

	switch kind {
	case authz.KindMissingCredential:
		httputil.WriteCodedError(w, http.StatusUnauthorized, kind.Code(), "authentication required")
	case authz.KindInvalidCredential:
		httputil.WriteCodedError(w, http.StatusUnauthorized, kind.Code(), "credential is invalid")
	case authz.KindCredentialRevoked:
		httputil.WriteCodedError(w, http.StatusUnauthorized, kind.Code(), "credential has been revoked")
	case authz.KindResourceClaimMissing:
		httputil.WriteCodedError(w, http.StatusBadRequest, kind.Code(), "plugin credential is missing its resource binding")
	case authz.KindNotEntitled:
		httputil.WriteCodedError(w, http.StatusForbidden, kind.Code(), "not entitled to this resource")
	case authz.KindAuthorityUnavailable:
		w.Header().Set("Retry-After", "5")
		httputil.WriteCodedError(w, http.StatusServiceUnavailable, kind.Code(), "authorization temporarily unavailable, retry later")
	default:
		httputil.WriteInternalError(w, err)
	}
}

func withPrincipal(ctx context.Context, principal *authz.Principal) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, principal)
	return observability.WithPrincipalID(ctx, principal.ID)
}

// GetPrincipal returns the principal resolved for this request, if any
func GetPrincipal(r *http.Request) (*authz.Principal, bool) {
	principal, ok := r.Context().Value(contextkeys.PrincipalKey).(*authz.Principal)
	return principal, ok
}
