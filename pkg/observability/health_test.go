package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHealthChecker_AllHealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker(db, client, &stubPinger{})
	status := checker.Check(context.Background())

	if status.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", status.Status)
	}
	if len(status.Dependencies) != 3 {
		t.Errorf("expected 3 dependency checks, got %d", len(status.Dependencies))
	}
}

func TestHealthChecker_RedisDownIsUnhealthy(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close() // revocation store gone

	checker := NewHealthChecker(nil, client, nil)
	status := checker.Check(context.Background())

	if status.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy when redis is down, got %s", status.Status)
	}
}

func TestHealthChecker_AuthorityDownIsDegraded(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker(nil, client, &stubPinger{err: errors.New("connection refused")})
	status := checker.Check(context.Background())

	if status.Status != StatusDegraded {
		t.Errorf("expected degraded when authority is down, got %s", status.Status)
	}
}

func TestHealthChecker_LivenessAlwaysOK(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil)

	req := httptest.NewRequest("GET", "/health/live", nil)
	w := httptest.NewRecorder()
	checker.Liveness(w, req)

	if w.Code != 200 {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestHealthChecker_ReadinessReturns503WhenUnhealthy(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	checker := NewHealthChecker(nil, client, nil)

	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()
	checker.Readiness(w, req)

	if w.Code != 503 {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
