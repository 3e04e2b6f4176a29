package authz

import (
	"errors"
	"fmt"
)

// Kind classifies why an authorization attempt failed. Every rejection
// carries exactly one kind so callers can map failures to HTTP statuses
// and clients can tell a policy denial from an infrastructure outage.
type Kind int

const (
	// KindMissingCredential means no credential was presented
	KindMissingCredential Kind = iota
	// KindInvalidCredential means the credential was malformed or its
	// signature did not verify
	KindInvalidCredential
	// KindCredentialRevoked means the credential verified but has been
	// revoked
	KindCredentialRevoked
	// KindResourceClaimMissing means a plugin credential carried no
	// bound resource
	KindResourceClaimMissing
	// KindNotEntitled means the authority affirmatively denied the
	// entitlement
	KindNotEntitled
	// KindAuthorityUnavailable means the entitlement could not be
	// verified because a dependency was unreachable. This is never a
	// denial; clients should retry.
	KindAuthorityUnavailable
)

// Code returns the stable machine-readable identifier for the kind
func (k Kind) Code() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindCredentialRevoked:
		return "credential_revoked"
	case KindResourceClaimMissing:
		return "resource_claim_missing"
	case KindNotEntitled:
		return "not_entitled"
	case KindAuthorityUnavailable:
		return "authority_unavailable"
	default:
		return "unknown"
	}
}

func (k Kind) String() string { return k.Code() }

// Error is an authorization failure with its classification
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind.Code(), e.Err)
	}
	return e.Kind.Code()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with an authorization kind
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the authorization kind from an error chain
func KindOf(err error) (Kind, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return 0, false
}
