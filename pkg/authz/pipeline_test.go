package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugbazaar/bazaar/pkg/authority"
	"github.com/plugbazaar/bazaar/pkg/revocation"
	"github.com/plugbazaar/bazaar/pkg/token"
)

type fakeRevocations struct {
	revoked map[string]bool
	err     error
	calls   atomic.Int64
}

func (f *fakeRevocations) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	f.calls.Add(1)
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[tokenHash], nil
}

type fakeAuthority struct {
	decision authority.Decision
	err      error
	calls    atomic.Int64
}

func (f *fakeAuthority) CheckEntitlement(ctx context.Context, principalID, resourceID string) (authority.Decision, error) {
	f.calls.Add(1)
	return f.decision, f.err
}

func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec("account-secret", "api-secret", "plugin-secret")
	require.NoError(t, err)
	return codec
}

func TestAuthorize_ValidPluginToken(t *testing.T) {
	codec := newTestCodec(t)
	auth := &fakeAuthority{decision: authority.DecisionGranted}
	pipeline := NewPipeline(codec, &fakeRevocations{}, auth, nil, nil)

	raw, err := codec.Encode(token.ScopePlugin, "install-3", "markdown-tools")
	require.NoError(t, err)

	principal, err := pipeline.Authorize(context.Background(), raw, token.ScopePlugin)
	require.NoError(t, err)

	assert.Equal(t, "install-3", principal.ID)
	assert.Equal(t, token.ScopePlugin, principal.Scope)
	assert.Equal(t, "markdown-tools", principal.GrantedResource)
	assert.Equal(t, int64(1), auth.calls.Load())
}

func TestAuthorize_AccountTokenSkipsAuthority(t *testing.T) {
	codec := newTestCodec(t)
	auth := &fakeAuthority{decision: authority.DecisionDenied}
	pipeline := NewPipeline(codec, &fakeRevocations{}, auth, nil, nil)

	raw, err := codec.Encode(token.ScopeAccount, "user-1", "")
	require.NoError(t, err)

	principal, err := pipeline.Authorize(context.Background(), raw, token.ScopeAccount)
	require.NoError(t, err)

	assert.Equal(t, "user-1", principal.ID)
	assert.Empty(t, principal.GrantedResource)
	assert.Equal(t, int64(0), auth.calls.Load(), "account tokens never consult the authority")
}

func TestAuthorize_MissingCredential(t *testing.T) {
	codec := newTestCodec(t)
	revocations := &fakeRevocations{}
	pipeline := NewPipeline(codec, revocations, &fakeAuthority{}, nil, nil)

	_, err := pipeline.Authorize(context.Background(), "", token.ScopeAccount)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindMissingCredential, kind)
	assert.Equal(t, int64(0), revocations.calls.Load())
}

func TestAuthorize_InvalidCredential(t *testing.T) {
	codec := newTestCodec(t)
	revocations := &fakeRevocations{}
	pipeline := NewPipeline(codec, revocations, &fakeAuthority{}, nil, nil)

	_, err := pipeline.Authorize(context.Background(), "garbage-token", token.ScopeAccount)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidCredential, kind)
	assert.Equal(t, int64(0), revocations.calls.Load(), "unverified tokens never reach the revocation check")
}

func TestAuthorize_WrongScopeToken(t *testing.T) {
	codec := newTestCodec(t)
	pipeline := NewPipeline(codec, &fakeRevocations{}, &fakeAuthority{}, nil, nil)

	raw, err := codec.Encode(token.ScopeAccount, "user-1", "")
	require.NoError(t, err)

	_, err = pipeline.Authorize(context.Background(), raw, token.ScopeAPI)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidCredential, kind)
}

func TestAuthorize_PluginTokenWithoutResourceClaim(t *testing.T) {
	codec := newTestCodec(t)
	auth := &fakeAuthority{decision: authority.DecisionGranted}
	pipeline := NewPipeline(codec, &fakeRevocations{}, auth, nil, nil)

	// signed with the right key but missing the resource binding
	claims := jwt.MapClaims{"scope": "plugin", "sub": "install-3", "iat": time.Now().Unix()}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("plugin-secret"))
	require.NoError(t, err)

	_, err = pipeline.Authorize(context.Background(), raw, token.ScopePlugin)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindResourceClaimMissing, kind)
	assert.Equal(t, int64(0), auth.calls.Load())
}

func TestAuthorize_RevokedBeatsMissingResourceClaim(t *testing.T) {
	codec := newTestCodec(t)
	auth := &fakeAuthority{decision: authority.DecisionGranted}

	// signed and revoked, but missing the resource binding; revocation
	// is checked first so the token reports as revoked
	claims := jwt.MapClaims{"scope": "plugin", "sub": "install-3", "iat": time.Now().Unix()}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("plugin-secret"))
	require.NoError(t, err)

	revocations := &fakeRevocations{revoked: map[string]bool{token.HashToken(raw): true}}
	pipeline := NewPipeline(codec, revocations, auth, nil, nil)

	_, err = pipeline.Authorize(context.Background(), raw, token.ScopePlugin)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindCredentialRevoked, kind)
	assert.Equal(t, int64(0), auth.calls.Load())
}

func TestAuthorize_RevokedShortCircuitsAuthority(t *testing.T) {
	codec := newTestCodec(t)
	auth := &fakeAuthority{decision: authority.DecisionGranted}

	raw, err := codec.Encode(token.ScopePlugin, "install-3", "markdown-tools")
	require.NoError(t, err)

	revocations := &fakeRevocations{revoked: map[string]bool{token.HashToken(raw): true}}
	pipeline := NewPipeline(codec, revocations, auth, nil, nil)

	_, err = pipeline.Authorize(context.Background(), raw, token.ScopePlugin)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindCredentialRevoked, kind)
	assert.Equal(t, int64(0), auth.calls.Load(), "revoked credentials must not reach the authority")
}

func TestAuthorize_NotEntitled(t *testing.T) {
	codec := newTestCodec(t)
	pipeline := NewPipeline(codec, &fakeRevocations{}, &fakeAuthority{decision: authority.DecisionDenied}, nil, nil)

	raw, err := codec.Encode(token.ScopePlugin, "install-3", "markdown-tools")
	require.NoError(t, err)

	_, err = pipeline.Authorize(context.Background(), raw, token.ScopePlugin)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNotEntitled, kind)
}

func TestAuthorize_AuthorityOutageIsNotADenial(t *testing.T) {
	codec := newTestCodec(t)
	pipeline := NewPipeline(codec, &fakeRevocations{}, &fakeAuthority{
		decision: authority.DecisionIndeterminate,
		err:      errors.New("authority unavailable: connection refused"),
	}, nil, nil)

	raw, err := codec.Encode(token.ScopePlugin, "install-3", "markdown-tools")
	require.NoError(t, err)

	_, err = pipeline.Authorize(context.Background(), raw, token.ScopePlugin)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindAuthorityUnavailable, kind)
	assert.NotEqual(t, KindNotEntitled, kind)
}

func TestAuthorize_RegistryOutageIsUnavailable(t *testing.T) {
	codec := newTestCodec(t)
	auth := &fakeAuthority{decision: authority.DecisionGranted}
	pipeline := NewPipeline(codec, &fakeRevocations{err: errors.New("connection reset")}, auth, nil, nil)

	raw, err := codec.Encode(token.ScopePlugin, "install-3", "markdown-tools")
	require.NoError(t, err)

	_, err = pipeline.Authorize(context.Background(), raw, token.ScopePlugin)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindAuthorityUnavailable, kind)
	assert.Equal(t, int64(0), auth.calls.Load())
}

func TestKindOf_UnclassifiedError(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

// end-to-end against a real codec, a real Redis registry, and a stub
// authority server
func TestAuthorize_Integration(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	registry := revocation.NewRegistry(client)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/entitlements/install-3/markdown-tools" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	authClient, err := authority.NewClient(authority.Options{
		BaseURL:     server.URL,
		Timeout:     time.Second,
		MaxInFlight: 4,
	})
	require.NoError(t, err)

	codec := newTestCodec(t)
	pipeline := NewPipeline(codec, registry, authClient, nil, nil)
	ctx := context.Background()

	entitled, err := codec.Encode(token.ScopePlugin, "install-3", "markdown-tools")
	require.NoError(t, err)
	principal, err := pipeline.Authorize(ctx, entitled, token.ScopePlugin)
	require.NoError(t, err)
	assert.Equal(t, "markdown-tools", principal.GrantedResource)

	unentitled, err := codec.Encode(token.ScopePlugin, "install-9", "other-plugin")
	require.NoError(t, err)
	_, err = pipeline.Authorize(ctx, unentitled, token.ScopePlugin)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNotEntitled, kind)

	// revoke the entitled token and watch it stop working
	require.NoError(t, registry.Revoke(ctx, token.HashToken(entitled)))
	_, err = pipeline.Authorize(ctx, entitled, token.ScopePlugin)
	kind, ok = KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindCredentialRevoked, kind)
}
