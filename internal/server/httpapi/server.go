// Package httpapi exposes the sync ledger and the content endpoints over
// plain HTTP with JWT bearer authentication.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/syncbox/internal/logging"
	"github.com/dmitrijs2005/syncbox/internal/server/content"
	"github.com/dmitrijs2005/syncbox/internal/server/ledger"
)

type Server struct {
	address       string
	logger        logging.Logger
	ledger        *ledger.Store
	content       *content.Store
	jwtSecret     []byte
	tokenValidity time.Duration
	production    bool
	now           func() time.Time
}

func NewServer(address string, l logging.Logger, led *ledger.Store, cs *content.Store, secretKey string, tokenValidity time.Duration, production bool) *Server {
	return &Server{
		address:       address,
		logger:        l.With("module", "http_server"),
		ledger:        led,
		content:       cs,
		jwtSecret:     []byte(secretKey),
		tokenValidity: tokenValidity,
		production:    production,
		now:           time.Now,
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// server through httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /sync/changes", s.withAuth(s.handlePull))
	mux.Handle("POST /sync/changes", s.withAuth(s.handlePush))
	mux.Handle("GET /sync/status", s.withAuth(s.handleStatus))

	mux.Handle("POST /api/{collection}", s.withAuth(s.handleContentCreate))
	mux.Handle("GET /api/{collection}", s.withAuth(s.handleContentList))
	mux.Handle("GET /api/{collection}/{id}", s.withAuth(s.handleContentGet))
	mux.Handle("PUT /api/{collection}/{id}", s.withAuth(s.handleContentUpdate))
	mux.Handle("DELETE /api/{collection}/{id}", s.withAuth(s.handleContentDelete))

	if !s.production {
		mux.HandleFunc("POST /auth/token", s.handleIssueToken)
		mux.Handle("DELETE /sync/records", s.withAuth(s.handleClearRecords))
	}

	return mux
}

func (s *Server) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:    s.address,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err.Error())
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
