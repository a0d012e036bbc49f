package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pulseboard/sentinel/internal/telemetry"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int
	RetentionDays int // audit retention in days, 0 = forever
	API           APIOptions
}

// Server runs the API and the audit retention loop.
type Server struct {
	api           *APIServer
	httpServer    *http.Server
	storage       *telemetry.Storage
	retentionDays int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer builds the server. storage may be nil.
func NewServer(manager *Manager, storage *telemetry.Storage, cfg ServerConfig) *Server {
	apiServer := NewAPIServer(manager, storage, cfg.API)
	return &Server{
		api:     apiServer,
		storage: storage,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		retentionDays: cfg.RetentionDays,
		stopChan:      make(chan struct{}),
	}
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}

// Start listens and serves in the background. Listen errors are returned
// synchronously.
func (s *Server) Start() error {
	if s.storage != nil && s.retentionDays > 0 {
		if deleted, err := s.storage.CleanupOldData(context.Background(), s.retentionDays); err != nil {
			log.Warn("Initial audit cleanup failed: %v", err)
		} else if deleted > 0 {
			log.Info("Initial audit cleanup: removed %d old records", deleted)
		}
		s.wg.Add(1)
		go s.cleanupLoop()
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	log.Info("API listening on %s", ln.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server error: %v", err)
		}
	}()
	return nil
}

// cleanupLoop runs periodic audit retention
func (s *Server) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.storage.CleanupOldData(context.Background(), s.retentionDays); err != nil {
				log.Warn("Periodic audit cleanup failed: %v", err)
			}
		}
	}
}

// Shutdown stops the server and waits for background work.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopChan) })

	var err error
	if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
		log.Error("API server shutdown error: %v", shutdownErr)
		err = shutdownErr
	}
	s.wg.Wait()
	return err
}
