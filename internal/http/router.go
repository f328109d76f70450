package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OrcaBus/platform-integration-tests/internal/bus"
	"github.com/OrcaBus/platform-integration-tests/internal/domain"
	"github.com/OrcaBus/platform-integration-tests/internal/service/ingest"
	"github.com/OrcaBus/platform-integration-tests/internal/service/run"
	"github.com/OrcaBus/platform-integration-tests/internal/service/verdict"
	"github.com/OrcaBus/platform-integration-tests/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	runs      *run.Service
	ingest    *ingest.Service
	verdicts  *verdict.Service
	validator *bus.Validator
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	apiToken  string
	busToken  string
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRunWrite  = 60
	rateLimitRunRead   = 240
	rateLimitEvents    = 1200
	rateLimitWatch     = 30
	healthCheckTimeout = 2 * time.Second
	maxEventBody       = 1 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, runSvc *run.Service, ingestSvc *ingest.Service, verdictSvc *verdict.Service, validator *bus.Validator, hub *ws.Hub, limiter RateLimiter, apiToken, busToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		runs:      runSvc,
		ingest:    ingestSvc,
		verdicts:  verdictSvc,
		validator: validator,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		apiToken: strings.TrimSpace(apiToken),
		busToken: strings.TrimSpace(busToken),
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /healthz", r.audit(r.handleHealthz))
	r.mux.Handle("GET /metrics", promhttp.Handler())
	r.mux.HandleFunc("POST /v1/runs", r.audit(r.requireToken(r.apiToken, r.withRateLimit("runs_create", rateLimitRunWrite, rateWindowDefault, r.handleCreateRun))))
	r.mux.HandleFunc("GET /v1/runs/{id}", r.audit(r.requireToken(r.apiToken, r.withRateLimit("runs_status", rateLimitRunRead, rateWindowDefault, r.handleRunStatus))))
	r.mux.HandleFunc("POST /v1/runs/{id}/verify", r.audit(r.requireToken(r.apiToken, r.withRateLimit("runs_verify", rateLimitRunWrite, rateWindowDefault, r.handleVerify))))
	r.mux.HandleFunc("GET /v1/runs/{id}/events", r.audit(r.requireToken(r.apiToken, r.withRateLimit("runs_events", rateLimitRunRead, rateWindowDefault, r.handleRunEvents))))
	r.mux.HandleFunc("GET /v1/runs/{id}/watch", r.audit(r.requireToken(r.apiToken, r.withRateLimit("runs_watch", rateLimitWatch, rateWindowRealtime, r.handleRunWatch))))
	r.mux.HandleFunc("POST /v1/events", r.audit(r.requireToken(r.busToken, r.withRateLimit("events_ingest", rateLimitEvents, rateWindowDefault, r.handleIngestEvent))))
}

func (r *Router) handleCreateRun(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Scenario       string `json:"scenario"`
		TimeoutSeconds int    `json:"timeoutSeconds"`
	}
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	result, err := r.runs.Seed(req.Context(), payload.Scenario, time.Duration(payload.TimeoutSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, domain.ErrScenarioNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		r.logger.Error("run seeding failed", "scenario", payload.Scenario, "error", err)
		writeError(w, http.StatusInternalServerError, "run seeding failed")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (r *Router) handleRunStatus(w http.ResponseWriter, req *http.Request) {
	view, err := r.runs.Status(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeRunError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) {
	v, err := r.verdicts.Verify(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrRunNotReady) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		r.writeRunError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (r *Router) handleRunEvents(w http.ResponseWriter, req *http.Request) {
	events, err := r.runs.Events(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeRunError(w, req, err)
		return
	}
	if events == nil {
		events = []domain.ObservedEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (r *Router) handleRunWatch(w http.ResponseWriter, req *http.Request) {
	runID := req.PathValue("id")
	if _, err := r.runs.Current(req.Context(), runID); err != nil {
		r.writeRunError(w, req, err)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusNotImplemented, "live observation not enabled")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(runID, client)
	go func() {
		defer func() {
			r.hub.Unregister(runID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleIngestEvent(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if r.validator != nil {
		if err := r.validator.Validate(body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	env, err := bus.ParseEnvelope(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.ingest.Ingest(req.Context(), env); err != nil {
		r.logger.Error("event ingestion failed", "event_id", env.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "event ingestion failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (r *Router) writeRunError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, domain.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	r.logger.Error("run request failed", "path", req.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		route := req.Pattern
		if route == "" {
			route = req.URL.Path
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"actor", requestActor(req),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}
