// Package authz implements the authorization pipeline shared by all
// request surfaces. The pipeline runs a fixed sequence of checks over a
// presented credential and either produces a Principal or rejects with
// a single classified Error. Stages run in order and the first failure
// wins; in particular a revoked credential is rejected before the
// remote authority is ever consulted.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/plugbazaar/bazaar/pkg/authority"
	"github.com/plugbazaar/bazaar/pkg/observability"
	"github.com/plugbazaar/bazaar/pkg/token"
)

// TokenDecoder verifies a raw credential for a scope
type TokenDecoder interface {
	Decode(scope token.Scope, raw string) (*token.Claims, error)
}

// RevocationChecker answers whether a token hash has been revoked
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
}

// EntitlementChecker consults the remote authority
type EntitlementChecker interface {
	CheckEntitlement(ctx context.Context, principalID, resourceID string) (authority.Decision, error)
}

// Pipeline runs the authorization stages
type Pipeline struct {
	decoder     TokenDecoder
	revocations RevocationChecker
	authority   EntitlementChecker
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
}

// NewPipeline creates an authorization pipeline
func NewPipeline(decoder TokenDecoder, revocations RevocationChecker, auth EntitlementChecker, logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	if logger == nil {
		logger = observability.NewDefaultLogger()
	}
	return &Pipeline{
		decoder:     decoder,
		revocations: revocations,
		authority:   auth,
		logger:      logger,
		metrics:     metrics,
		tracer:      otel.Tracer("bazaar/authz"),
	}
}

// Authorize validates a raw credential under the given scope and
// returns the resulting principal. On failure the returned error is
// always an *Error carrying the rejection kind.
func (p *Pipeline) Authorize(ctx context.Context, rawCredential string, scope token.Scope) (*Principal, error) {
	ctx, span := p.tracer.Start(ctx, "authz.Authorize",
		trace.WithAttributes(attribute.String("authz.scope", string(scope))))
	defer span.End()

	start := time.Now()
	principal, err := p.authorize(ctx, rawCredential, scope)

	outcome := "granted"
	if err != nil {
		if kind, ok := KindOf(err); ok {
			outcome = kind.Code()
		} else {
			outcome = "error"
		}
	}
	span.SetAttributes(attribute.String("authz.outcome", outcome))
	if p.metrics != nil {
		p.metrics.AuthDecisionsTotal.WithLabelValues(string(scope), outcome).Inc()
		p.metrics.AuthPipelineDuration.WithLabelValues(string(scope)).Observe(time.Since(start).Seconds())
	}
	return principal, err
}

func (p *Pipeline) authorize(ctx context.Context, rawCredential string, scope token.Scope) (*Principal, error) {
	// presence
	if rawCredential == "" {
		return nil, NewError(KindMissingCredential, errors.New("no credential presented"))
	}

	// signature and claims. A plugin credential missing its bound
	// resource is the one decode failure that is not terminal yet: the
	// signature verified, so revocation is still checked first and a
	// revoked token reports as revoked, not as claim-incomplete.
	claims, decodeErr := p.decoder.Decode(scope, rawCredential)
	if decodeErr != nil && !errors.Is(decodeErr, token.ErrMissingResourceClaim) {
		return nil, NewError(KindInvalidCredential, decodeErr)
	}

	// revocation, keyed on the token hash so the raw credential is
	// never stored anywhere
	tokenHash := token.HashToken(rawCredential)
	revoked, err := p.revocations.IsRevoked(ctx, tokenHash)
	if err != nil {
		// registry outage: the token cannot be vouched for, but it is
		// not known-bad either, so fail as unavailable rather than
		// revoked or invalid
		if p.metrics != nil {
			p.metrics.RevocationChecksTotal.WithLabelValues("error").Inc()
		}
		return nil, NewError(KindAuthorityUnavailable, fmt.Errorf("revocation registry: %w", err))
	}
	if revoked {
		if p.metrics != nil {
			p.metrics.RevocationChecksTotal.WithLabelValues("revoked").Inc()
		}
		p.logger.WithFields(map[string]interface{}{
			"token_hash": tokenHash,
			"scope":      string(scope),
		}).Warn("revoked credential presented")
		return nil, NewError(KindCredentialRevoked, errors.New("credential has been revoked"))
	}
	if p.metrics != nil {
		p.metrics.RevocationChecksTotal.WithLabelValues("active").Inc()
	}

	if decodeErr != nil {
		return nil, NewError(KindResourceClaimMissing, decodeErr)
	}

	// entitlement: plugin credentials additionally require the remote
	// authority to affirm the subject's grant on the bound resource
	grantedResource := ""
	if scope == token.ScopePlugin {
		decision, err := p.authority.CheckEntitlement(ctx, claims.Subject, claims.ResourceID)
		switch decision {
		case authority.DecisionGranted:
			grantedResource = claims.ResourceID
		case authority.DecisionDenied:
			return nil, NewError(KindNotEntitled,
				fmt.Errorf("principal %s is not entitled to %s", claims.Subject, claims.ResourceID))
		default:
			if err == nil {
				err = errors.New("authority returned no decision")
			}
			return nil, NewError(KindAuthorityUnavailable, err)
		}
	}

	return &Principal{
		ID:              claims.Subject,
		Scope:           scope,
		GrantedResource: grantedResource,
	}, nil
}
