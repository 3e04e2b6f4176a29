package authority

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, maxRetries uint64) *Client {
	t.Helper()
	client, err := NewClient(Options{
		BaseURL:     baseURL,
		Timeout:     2 * time.Second,
		MaxInFlight: 4,
		MaxRetries:  maxRetries,
	})
	require.NoError(t, err)
	return client
}

func TestCheckEntitlement_Granted(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/entitlements/install-3/markdown-tools", r.URL.Path)
			w.WriteHeader(status)
		}))

		client := newTestClient(t, server.URL, 0)
		decision, err := client.CheckEntitlement(context.Background(), "install-3", "markdown-tools")

		assert.NoError(t, err)
		assert.Equal(t, DecisionGranted, decision)
		server.Close()
	}
}

func TestCheckEntitlement_Denied(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		client := newTestClient(t, server.URL, 3)
		decision, err := client.CheckEntitlement(context.Background(), "install-3", "markdown-tools")

		assert.NoError(t, err)
		assert.Equal(t, DecisionDenied, decision)
		server.Close()
	}
}

func TestCheckEntitlement_ServerErrorRetriesThenIndeterminate(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	decision, err := client.CheckEntitlement(context.Background(), "install-3", "markdown-tools")

	assert.Error(t, err)
	assert.Equal(t, DecisionIndeterminate, decision)
	assert.Equal(t, int64(3), calls.Load(), "initial attempt plus two retries")
}

func TestCheckEntitlement_RecoversAfterTransientError(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	decision, err := client.CheckEntitlement(context.Background(), "install-3", "markdown-tools")

	assert.NoError(t, err)
	assert.Equal(t, DecisionGranted, decision)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCheckEntitlement_TimeoutIsIndeterminate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(Options{
		BaseURL:     server.URL,
		Timeout:     20 * time.Millisecond,
		MaxInFlight: 4,
		MaxRetries:  0,
	})
	require.NoError(t, err)

	decision, err := client.CheckEntitlement(context.Background(), "install-3", "markdown-tools")

	assert.Error(t, err)
	assert.Equal(t, DecisionIndeterminate, decision)
}

func TestCheckEntitlement_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision, err := client.CheckEntitlement(ctx, "install-3", "markdown-tools")

	assert.Error(t, err)
	assert.Equal(t, DecisionIndeterminate, decision)
}

func TestCheckEntitlement_SemaphoreExhaustion(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(Options{
		BaseURL:     server.URL,
		Timeout:     5 * time.Second,
		MaxInFlight: 1,
		MaxRetries:  0,
	})
	require.NoError(t, err)

	// occupy the single slot
	go client.CheckEntitlement(context.Background(), "install-1", "plugin-a")
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	decision, err := client.CheckEntitlement(ctx, "install-2", "plugin-b")

	assert.Error(t, err)
	assert.Equal(t, DecisionIndeterminate, decision)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "granted", DecisionGranted.String())
	assert.Equal(t, "denied", DecisionDenied.String())
	assert.Equal(t, "indeterminate", DecisionIndeterminate.String())
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestPing_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	assert.Error(t, client.Ping(context.Background()))
}
