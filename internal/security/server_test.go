package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pulseboard/sentinel/internal/telemetry"
)

func TestServerLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)
	storage, err := telemetry.NewStorage(":memory:", "")
	if err != nil {
		t.Fatal(err)
	}
	defer storage.Close()

	srv := NewServer(m, storage, ServerConfig{Port: 0, RetentionDays: 30})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health: %d", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	// second shutdown must not panic on the closed stop channel
	srv.Shutdown(ctx)
}

func TestServerShutdownNil(t *testing.T) {
	var srv *Server
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("nil server: %v", err)
	}
}
