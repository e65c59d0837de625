// Package server exposes the profile service over HTTP. Every operation
// is a POST to /rpc/{operation} with a JSON object of named arguments and
// answers with the same envelope:
//
//	{"ok": true, "data": ...}
//	{"ok": false, "kind": "not_found", "message": "..."}
//
// Requests must carry Content-Type application/json and no Origin header,
// which keeps web pages in a local browser from driving the daemon.
//
// The server keeps no client state; clients poll info and list_configs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ljm625/decky-sbox/pkg/sbox"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Service is the facade the server dispatches to. *sbox.Service
// implements it.
type Service interface {
	Info(ctx context.Context) (sbox.Info, error)
	ListConfigs(ctx context.Context) ([]sbox.Profile, error)
	DownloadConfig(ctx context.Context, name, src string) sbox.Result
	RefreshConfig(ctx context.Context, name string) sbox.Result
	UpdateConfig(ctx context.Context, name string, field sbox.Field) sbox.Result
	DeleteConfig(ctx context.Context, name string) sbox.Result
	ToggleSingbox(ctx context.Context, on bool) sbox.Result
}

// Options configures a Server.
type Options struct {
	Logger *slog.Logger

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Version is reported by /healthz.
	Version string
}

// Server is the HTTP transport.
type Server struct {
	svc     Service
	opts    Options
	logger  *slog.Logger
	handler http.Handler
}

// New builds a Server for svc.
func New(svc Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, opts: opts, logger: logger.With("component", "server")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc/{op}", s.handleRPC)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = s.withRequestID(s.withRecover(mux))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.opts.Version})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"request_id", id, "duration", time.Since(start))
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", v, "request_id", RequestID(r.Context()))
				writeEnvelope(w, http.StatusInternalServerError, Envelope{Kind: sbox.KindInternal, Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
