package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-retry/internal/deadletter"
	"go-retry/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, f *fixture, checks map[string]HealthCheck) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "retryworker_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	cfg := DefaultServerConfig()
	cfg.Gatherer = reg
	logger, _ := test.NewNullLogger()
	return NewServer(f.svc, checks, cfg, logger)
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHTTP_Resend(t *testing.T) {
	f := newFixture(t)
	f.seedDeadLetters(t, 3)
	s := newTestServer(t, f, nil)

	rec := do(t, s, http.MethodPost, "/api/messages/resend?startId=1&endId=2")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, f.producer.GetPublishedMessages(), 2)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing start", "/api/messages/resend?endId=2", http.StatusBadRequest},
		{"bad end", "/api/messages/resend?startId=1&endId=x", http.StatusBadRequest},
		{"reversed", "/api/messages/resend?startId=3&endId=1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestHTTP_ResendOutlivesClientDisconnect(t *testing.T) {
	f := newFixture(t)
	f.seedDeadLetters(t, 3)
	s := newTestServer(t, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.producer.PublishFunc = func(pctx context.Context, _ string, _, _ []byte, _ models.Headers) error {
		cancel()
		return pctx.Err()
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/messages/resend?startId=1&endId=3", nil).WithContext(ctx)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, f.producer.GetPublishedMessages(), 3)
	for id := int64(1); id <= 3; id++ {
		got, ok := f.deadLetters.Get(id)
		require.True(t, ok)
		assert.Equal(t, deadletter.StatusRetrying, got.Status, "id %d", id)
	}
}

func TestHTTP_ResendConflict(t *testing.T) {
	f := newFixture(t)
	f.seedDeadLetters(t, 3)
	s := newTestServer(t, f, nil)

	release, ok, err := f.locker.TryLock(context.Background(), "resend:1:3", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	rec := do(t, s, http.MethodPost, "/api/messages/resend?startId=1&endId=3")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHTTP_List(t *testing.T) {
	f := newFixture(t)
	f.seedDeadLetters(t, 5)
	require.NoError(t, f.deadLetters.UpdateStatus(context.Background(), 4, deadletter.StatusRetrying, "ops"))
	s := newTestServer(t, f, nil)

	rec := do(t, s, http.MethodGet, "/api/messages?page=1&pageSize=2&status=failed&topic=orders")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var page deadletter.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, 2, page.PageSize)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(5), page.Items[0].ID)
	assert.Equal(t, int64(3), page.Items[1].ID)
}

func TestHTTP_ListDateFilter(t *testing.T) {
	f := newFixture(t)
	f.seedDeadLetters(t, 2)
	s := newTestServer(t, f, nil)

	today := time.Now().UTC().Format(dateLayout)
	rec := do(t, s, http.MethodGet, "/api/messages?fromDate="+today+"&toDate="+today)
	require.Equal(t, http.StatusOK, rec.Code)
	var page deadletter.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.Total)

	rec = do(t, s, http.MethodGet, "/api/messages?toDate=2000-01-01")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Items)
}

func TestHTTP_ListRejectsBadFilters(t *testing.T) {
	f := newFixture(t)
	s := newTestServer(t, f, nil)

	for _, target := range []string{
		"/api/messages?page=one",
		"/api/messages?status=DONE",
		"/api/messages?fromDate=01-02-2024",
		"/api/messages?startId=abc",
	} {
		rec := do(t, s, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHTTP_Purge(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "1", "abc", 1)
	f.enqueue(t, "2", "abc", 2)
	f.enqueue(t, "3", "xyz", 3)
	s := newTestServer(t, f, nil)

	rec := do(t, s, http.MethodDelete, "/api/retry-queue?key=abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2}`, rec.Body.String())

	rec = do(t, s, http.MethodDelete, "/api/retry-queue?all=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	rec = do(t, s, http.MethodDelete, "/api/retry-queue")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/retry-queue?all=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_Health(t *testing.T) {
	f := newFixture(t)
	healthy := true
	checks := map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
		"kafka": func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("no brokers reachable")
		},
	}
	s := newTestServer(t, f, checks)

	rec := do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","checks":{"kafka":"ok","redis":"ok"}}`, rec.Body.String())

	healthy = false
	rec = do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"kafka":"no brokers reachable","redis":"ok"}}`, rec.Body.String())
}

func TestHTTP_Metrics(t *testing.T) {
	s := newTestServer(t, newFixture(t), nil)

	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "retryworker_test_total 1"))
}
