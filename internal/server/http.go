package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/coffersTech/disclosurelog/internal/logstore"
	"github.com/coffersTech/disclosurelog/internal/metrics"
	"github.com/coffersTech/disclosurelog/internal/stream"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options tunes the HTTP surface.
type Options struct {
	CORSOrigin   string
	MaxBodyBytes int64
	Gzip         bool
	Gatherer     prometheus.Gatherer // nil disables /metrics
}

// LogServer exposes the log store over HTTP.
type LogServer struct {
	store   *logstore.Store
	hub     *stream.Hub
	metrics *metrics.Metrics
	opts    Options
	srv     *http.Server
}

func NewLogServer(store *logstore.Store, hub *stream.Hub, m *metrics.Metrics, opts Options) *LogServer {
	if m == nil {
		m = metrics.New(nil)
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if hub != nil {
		// Published under the file lock so stream order matches file order.
		store.OnAppend(func(entry json.RawMessage) { hub.Publish(entry) })
	}
	return &LogServer{
		store:   store,
		hub:     hub,
		metrics: m,
		opts:    opts,
	}
}

// Handler builds the routed handler with CORS applied to every response.
func (s *LogServer) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "/api/logs", s.handleLogs, true)
	s.handle(mux, "/api/logs/files", s.handleFiles, true)
	s.handle(mux, "/api/logs/files/", s.handleFileDownload, true)
	s.handle(mux, "/healthz", s.handleHealth, false)

	if s.hub != nil {
		s.handle(mux, "/api/logs/stream", s.hub.ServeHTTP, false)
	}
	if s.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return s.cors(mux)
}

// handle registers h under pattern, instrumented and optionally gzipped.
// Hijacked routes (the stream) must pass compress=false.
func (s *LogServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc, compress bool) {
	var next http.Handler = h
	if compress && s.opts.Gzip {
		next = gzhttp.GzipHandler(next)
	}
	observer := s.metrics.RequestDuration.MustCurryWith(prometheus.Labels{"route": pattern})
	mux.Handle(pattern, promhttp.InstrumentHandlerDuration(observer, next))
}

// Start runs the HTTP server.
func (s *LogServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and disconnects stream clients.
func (s *LogServer) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// cors allows cross-origin requests unconditionally and answers preflights.
func (s *LogServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.opts.CORSOrigin)
		if s.opts.CORSOrigin != "*" {
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
				h.Add("Vary", "Access-Control-Request-Headers")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleLogs serves POST, GET and DELETE on /api/logs.
func (s *LogServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAppend(w, r)
	case http.MethodGet:
		s.handleReadAll(w, r)
	case http.MethodDelete:
		s.handleDeleteAll(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *LogServer) handleAppend(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.maxBody()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		log.Printf("Failed to read body: %v", err)
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	if _, err := s.store.Append(body); err != nil {
		if errors.Is(err, logstore.ErrNotObject) {
			writeError(w, http.StatusBadRequest, "Invalid JSON: log entry must be a JSON object")
			return
		}
		log.Printf("Error writing log: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to write log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *LogServer) handleReadAll(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ReadAll()
	if err != nil {
		log.Printf("Error reading logs: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to read logs")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *LogServer) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteAll()
	if err != nil {
		log.Printf("Error clearing logs: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"deleted": deleted,
	})
}

// handleFiles processes GET /api/logs/files requests.
func (s *LogServer) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	files, err := s.store.ListFiles()
	if err != nil {
		log.Printf("Error reading log files: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to read log files")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// handleFileDownload serves one log file: GET /api/logs/files/{name}
func (s *LogServer) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/logs/files/")
	f, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, logstore.ErrInvalidName) || errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "Log file not found")
			return
		}
		log.Printf("Error opening log file %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "Failed to read log file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Printf("Error opening log file %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "Failed to read log file")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *LogServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (o Options) maxBody() int64 {
	if o.MaxBodyBytes <= 0 {
		return 100 << 10
	}
	return o.MaxBodyBytes
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("JSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
