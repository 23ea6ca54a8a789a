package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tablectl/internal/table"
)

func TestChecker_Aggregate(t *testing.T) {
	ctx := context.Background()
	checker := NewChecker(0)

	checker.Register("ok", func(ctx context.Context) Check {
		return Check{Status: StatusHealthy, Message: "OK"}
	})
	report := checker.Check(ctx)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "ok", report.Checks["ok"].Name)
	assert.False(t, report.Checks["ok"].LastChecked.IsZero())

	checker.Register("slow", func(ctx context.Context) Check {
		return Check{Status: StatusDegraded}
	})
	assert.Equal(t, StatusDegraded, checker.Check(ctx).Status)

	checker.Register("down", func(ctx context.Context) Check {
		return Check{Status: StatusUnhealthy}
	})
	report = checker.Check(ctx)
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Len(t, report.Checks, 3)
}

func TestChecker_Cache(t *testing.T) {
	calls := 0
	checker := NewChecker(time.Hour)
	checker.Register("count", func(ctx context.Context) Check {
		calls++
		return Check{Status: StatusHealthy}
	})

	checker.Check(context.Background())
	checker.Check(context.Background())
	assert.Equal(t, 1, calls)
}

func TestHandler(t *testing.T) {
	checker := NewChecker(0)
	status := StatusHealthy
	checker.Register("toggle", func(ctx context.Context) Check {
		return Check{Status: status}
	})

	rr := httptest.NewRecorder()
	checker.Handler()(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&report))
	assert.Equal(t, StatusHealthy, report.Status)

	status = StatusUnhealthy
	rr = httptest.NewRecorder()
	checker.Handler()(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	LivenessHandler()(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, "OK", rr.Body.String())
}

func TestDeviceCheck(t *testing.T) {
	store := table.NewMemoryStore()
	check := DeviceCheck(table.Config{Opener: store.Opener()})

	assert.Equal(t, StatusHealthy, check(context.Background()).Status)
	assert.Zero(t, store.OpenHandles())

	store.FailOpen(syscall.EACCES)
	res := check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Message, "device unavailable")
}
