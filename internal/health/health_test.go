package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func TestHandler_Endpoints(t *testing.T) {
	tests := []struct {
		name        string
		checkers    map[string]Checker
		wantStatus  Status
		wantHealthz int
		wantReadyz  int
		readyBody   string
	}{
		{
			name:        "no checks",
			wantStatus:  StatusHealthy,
			wantHealthz: http.StatusOK,
			wantReadyz:  http.StatusOK,
			readyBody:   "ready",
		},
		{
			name: "all healthy",
			checkers: map[string]Checker{
				"storage":   NewPingChecker("storage", ok),
				"inventory": NewSoftChecker("inventory", ok),
			},
			wantStatus:  StatusHealthy,
			wantHealthz: http.StatusOK,
			wantReadyz:  http.StatusOK,
			readyBody:   "ready",
		},
		{
			name: "inventory down only degrades",
			checkers: map[string]Checker{
				"storage":   NewPingChecker("storage", ok),
				"inventory": NewSoftChecker("inventory", failing("connection refused")),
			},
			wantStatus:  StatusDegraded,
			wantHealthz: http.StatusOK,
			wantReadyz:  http.StatusOK,
			readyBody:   "ready",
		},
		{
			name: "storage down",
			checkers: map[string]Checker{
				"storage":   NewSimpleChecker("storage", func() error { return errors.New("redis: nil conn") }),
				"inventory": NewSoftChecker("inventory", failing("timeout")),
			},
			wantStatus:  StatusUnhealthy,
			wantHealthz: http.StatusServiceUnavailable,
			wantReadyz:  http.StatusServiceUnavailable,
			readyBody:   "not ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler("1.2.3")
			for name, checker := range tt.checkers {
				handler.RegisterChecker(name, checker)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			require.Equal(t, tt.wantHealthz, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp Response
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			require.Equal(t, tt.wantStatus, resp.Status)
			require.Equal(t, "1.2.3", resp.Version)
			require.Len(t, resp.Checks, len(tt.checkers))

			rec = httptest.NewRecorder()
			handler.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			require.Equal(t, tt.wantReadyz, rec.Code)
			require.Equal(t, tt.readyBody, rec.Body.String())
		})
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestPingChecker_Check(t *testing.T) {
	slow := NewSimpleChecker("storage", func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	check := slow.Check(context.Background())
	require.Equal(t, StatusHealthy, check.Status)
	require.Empty(t, check.Message)
	require.GreaterOrEqual(t, check.DurationMs, int64(10))

	check = NewPingChecker("storage", failing("dial tcp: refused")).Check(context.Background())
	require.Equal(t, StatusUnhealthy, check.Status)
	require.Equal(t, "dial tcp: refused", check.Message)

	check = NewSoftChecker("inventory", failing("502")).Check(context.Background())
	require.Equal(t, StatusDegraded, check.Status)
	require.Equal(t, "inventory", check.Name)
}

func TestHandler_ChecksRunWithDeadline(t *testing.T) {
	handler := NewHandler("dev")
	var hadDeadline bool
	handler.RegisterChecker("storage", NewPingChecker("storage", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}))

	handler.Evaluate(context.Background())
	require.True(t, hadDeadline)
}

func TestHandler_RegisterReplaces(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("storage", NewPingChecker("storage", failing("down")))
	handler.RegisterChecker("storage", NewPingChecker("storage", ok))

	resp := handler.Evaluate(context.Background())
	require.Equal(t, StatusHealthy, resp.Status)
	require.Len(t, resp.Checks, 1)
}
