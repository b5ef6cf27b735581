package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benaskins/credstore/internal/dispatch"
	"github.com/benaskins/credstore/internal/keychain"
)

const maxBodyBytes = 64 << 10

// Response is the body of every secret endpoint: the task's two-slot
// completion. Error is null unless the operation failed fatally.
type Response struct {
	Error *string `json:"error"`
	Value any     `json:"value"`
}

// SetRequest is the body of PUT /v1/secrets.
type SetRequest struct {
	Secret string `json:"secret"`
}

// Server serves the credstore REST API. Every secret request becomes one
// dispatcher task.
type Server struct {
	dispatcher *dispatch.Dispatcher
	listener   net.Listener
	server     *http.Server
	logger     *slog.Logger
}

// NewServer creates an API server backed by the given dispatcher. When
// gatherer is non-nil its metrics are served on /metrics.
func NewServer(d *dispatch.Dispatcher, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		dispatcher: d,
		logger:     slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/secrets", s.setSecret)
	mux.HandleFunc("GET /v1/secrets", s.getSecret)
	mux.HandleFunc("DELETE /v1/secrets", s.deleteSecret)
	mux.HandleFunc("GET /v1/secrets/first", s.findSecret)
	mux.HandleFunc("GET /v1/credentials", s.findCredentials)
	mux.HandleFunc("GET /v1/health", s.health)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{Handler: mux}
	return s
}

// ListenUnix starts the server on a Unix socket. Connections from other
// users are dropped where the platform reports peer credentials.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return err
	}
	s.listener = &peerListener{Listener: ln, uid: os.Getuid(), logger: s.logger}
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(s.listener)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setSecret(w http.ResponseWriter, r *http.Request) {
	var req SetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	service, account := identifiers(r)
	s.run(w, r, dispatch.SetTask(service, account, req.Secret))
}

func (s *Server) getSecret(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.GetTask(identifiers(r)))
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.DeleteTask(identifiers(r)))
}

func (s *Server) findSecret(w http.ResponseWriter, r *http.Request) {
	service, _ := identifiers(r)
	s.run(w, r, dispatch.FindSecretTask(service))
}

func (s *Server) findCredentials(w http.ResponseWriter, r *http.Request) {
	service, _ := identifiers(r)
	s.run(w, r, dispatch.FindCredentialsTask(service))
}

// identifiers reads service and account from the query string. They are
// not path segments, so empty or dot names reach the store unchanged.
func identifiers(r *http.Request) (service, account string) {
	q := r.URL.Query()
	return q.Get("service"), q.Get("account")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": s.dispatcher.Pending(),
	})
}

// run executes a task and maps its kind to a status: success 200,
// nonfatal 404, fatal 500.
func (s *Server) run(w http.ResponseWriter, r *http.Request, t dispatch.Task) {
	res, err := s.dispatcher.Do(r.Context(), t)
	if err != nil {
		// The client went away; the task still runs to completion.
		s.logger.Debug("request abandoned", "task", t.String(), "error", err)
		return
	}

	resp := Response{Value: res.Value}
	status := http.StatusOK
	switch {
	case errors.Is(res.Err, dispatch.ErrClosed):
		status = http.StatusServiceUnavailable
	case res.Kind() == keychain.Fatal:
		status = http.StatusInternalServerError
	case res.Kind() == keychain.NonFatal:
		status = http.StatusNotFound
	}
	if res.Err != nil {
		msg := res.Err.Error()
		resp.Error = &msg
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Error: &msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
