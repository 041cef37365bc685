package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker(0)
	c.Register("index", IndexCheck(func() IndexState { return IndexState{Generation: 3, Documents: 10} }))
	c.Register("redis", PingCheck(func(context.Context) error { return errors.New("refused") }, true))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUp, report.Components["index"].Status)
	assert.Equal(t, "refused", report.Components["redis"].Message)

	c.Register("postgres", PingCheck(func(context.Context) error { return errors.New("down") }, false))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestIndexCheckDegradesAfterFailedCommit(t *testing.T) {
	h := IndexCheck(func() IndexState {
		return IndexState{Generation: 2, LastCommitError: "disk full"}
	})(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Contains(t, h.Message, "disk full")
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(0)
	c.Register("index", IndexCheck(func() IndexState { return IndexState{} }))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("cache", PingCheck(func(context.Context) error { return errors.New("refused") }, true))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded stays ready")

	c.Register("broken", PingCheck(func(context.Context) error { return errors.New("x") }, false))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSlowCheckTimesOut(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("stuck", func(ctx context.Context) ComponentHealth {
		time.Sleep(200 * time.Millisecond)
		return ComponentHealth{Status: StatusUp}
	})
	report := c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "check timed out", report.Components["stuck"].Message)
}
