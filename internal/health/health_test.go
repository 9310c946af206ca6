package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCheckReportsDependencies(t *testing.T) {
	_, client := newRedis(t)
	db := pingFunc(func(context.Context) error { return nil })

	status := NewChecker(db, nil, client, fixedCounter(3)).Check(context.Background())

	assert.Equal(t, "chat", status.Service)
	assert.Equal(t, StateConnected, status.Database)
	assert.Equal(t, StateConnected, status.Redis)
	assert.Equal(t, StateNotConfigured, status.NATS)
	assert.Equal(t, 3, status.Connections)
	assert.True(t, status.Healthy())
}

func TestCheckDetectsOutage(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()
	db := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	status := NewChecker(db, nil, client, nil).Check(context.Background())

	assert.Equal(t, StateDisconnected, status.Database)
	assert.Equal(t, StateDisconnected, status.Redis)
	assert.False(t, status.Healthy())
}

func TestReadyEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr, client := newRedis(t)

	checker := NewChecker(nil, nil, client, fixedCounter(1))
	r := gin.New()
	r.GET("/health", checker.Live)
	r.GET("/ready", checker.Ready)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, StateNotConfigured, status.Database)
	assert.Equal(t, 1, status.Connections)

	mr.Close()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
