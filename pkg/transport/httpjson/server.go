// Package httpjson exposes a minimal operator-facing HTTP surface for a
// node: /status (a JSON snapshot), /healthz, and /metrics. It is
// deliberately outside the node-to-node fabric (§4.2 covers peer
// transport) — this is for humans and scrapers.
package httpjson

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rtcluster/coordinator/pkg/observability/tracing"
	"github.com/rtcluster/coordinator/pkg/transport"
)

// Server is a minimal HTTP server exposing /status, /healthz, /metrics.
type Server struct {
	bind   string
	srv    *http.Server
	logger *log.Logger
	tlsCfg *tls.Config
}

// NewServer returns a server for the given TCP address (e.g., ":9511");
// Start binds it.
func NewServer(bind string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Start launches the HTTP server, serving status from the given
// StatusFunc until ctx is canceled.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, end := tracing.StartSpan(r.Context(), "http.status")
		defer end()
		data, err := status(ctx)
		if err != nil {
			http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{Addr: s.bind, Handler: mux}

	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	if s.tlsCfg != nil {
		ln = tls.NewListener(ln, s.tlsCfg)
	}

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("httpjson: server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the configured bind address.
func (s *Server) Addr() string { return s.bind }

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(c)
	s.srv = nil
	return err
}
