package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 100 * time.Millisecond})

	var order []int
	for i := 1; i <= 3; i++ {
		sm.RegisterCloser(CloserFunc(func() error {
			order = append(order, i)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[2] != 1 {
		t.Errorf("close order = %v, want [3 2 1]", order)
	}
	if !sm.IsShuttingDown() {
		t.Error("IsShuttingDown = false after Shutdown")
	}

	// Second call is a no-op.
	if err := sm.Shutdown(context.Background(), "again"); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("closers ran again: %v", order)
	}
}

func TestShutdown_ReportsCloseError(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	boom := errors.New("boom")
	sm.RegisterCloser(CloserFunc(func() error { return boom }))

	err := sm.Shutdown(context.Background(), "test")
	if !errors.Is(err, boom) {
		t.Fatalf("Shutdown error = %v, want boom", err)
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 100 * time.Millisecond})
	if !sm.TrackRequest() {
		t.Fatal("TrackRequest rejected before shutdown")
	}

	err := sm.Shutdown(context.Background(), "test")
	if err == nil {
		t.Fatal("expected drain timeout error")
	}
	if sm.TrackRequest() {
		t.Error("TrackRequest accepted during shutdown")
	}
	sm.UntrackRequest()
	if sm.InFlightCount() != 0 {
		t.Errorf("InFlightCount = %d", sm.InFlightCount())
	}
}

func TestMiddleware_RejectsDuringShutdown(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	r := gin.New()
	r.Use(sm.Middleware())
	r.GET("/ping", func(c *gin.Context) {
		if sm.InFlightCount() != 1 {
			t.Errorf("InFlightCount = %d inside handler", sm.InFlightCount())
		}
		c.String(http.StatusOK, "pong")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("InFlightCount = %d after request", sm.InFlightCount())
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGracefulHTTPServer_StopsOnShutdown(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	srv := NewGracefulHTTPServer(&http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}, sm)

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if err := sm.ListenForSignals(ctx); err != nil {
		t.Fatalf("ListenForSignals: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
