package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/signal-pipeline/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{IntervalSecs: 1, DeadLetterThreshold: 1}
	checker := NewChecker(NewCollector(&mockCounter{}, 3, time.Minute), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&mockCounter{}, 3, 0), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, DeadLetterThreshold: 2, StaleLockThreshold: 1}
	checker := NewChecker(NewCollector(&mockCounter{counts: sampleCounts()}, 3, time.Minute), NewAlerter(cfg), cfg)

	assert.Equal(t, 2, checker.Check(context.Background()))
	assert.Equal(t, int32(2), received.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.MonitoringConfig{DeadLetterThreshold: 1}
	checker := NewChecker(NewCollector(&mockCounter{err: assert.AnError}, 3, 0), NewAlerter(cfg), cfg)

	assert.Zero(t, checker.Check(context.Background()))
}
