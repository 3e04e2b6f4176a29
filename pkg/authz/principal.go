package authz

import "github.com/plugbazaar/bazaar/pkg/token"

// Principal is the authenticated identity produced by a successful run
// of the authorization pipeline.
type Principal struct {
	// ID is the subject of the verified credential
	ID string

	// Scope is the credential class the principal authenticated with
	Scope token.Scope

	// GrantedResource is the plugin this principal is entitled to act
	// on. Set only for plugin-scope principals, and only after the
	// authority has affirmed the entitlement.
	GrantedResource string
}
