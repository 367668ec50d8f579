// Package web provides the local HTTP status and configuration server for
// the bonsai-node daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/bonsai-node/internal/status"
)

// requestTimeout bounds how long a handler waits for the control loop.
const requestTimeout = 5 * time.Second

// Server serves the status page, metrics and the local API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	requests   chan Request
}

// New creates a Server that reads state from tracker and exposes the
// collectors in gatherer on /metrics. gatherer may be nil.
func New(addr string, tracker *status.Tracker, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		tracker:  tracker,
		requests: make(chan Request),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/api/soil", s.handleSoil)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/pump/on", s.handlePump(KindPumpOn))
	mux.HandleFunc("/api/pump/off", s.handlePump(KindPumpOff))
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: requestTimeout,
	}
	return s
}

// Requests delivers API requests that the control loop must answer.
func (s *Server) Requests() <-chan Request {
	return s.requests
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
