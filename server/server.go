// Package server is the Control Server (spec.md §4.7): a JSON/HTTP
// request-response surface for topology and failure operations, plus
// two persistent streaming surfaces (terminal, packet) built on
// websockets. Grounded on envd's gorilla/mux + gorilla/handlers stack
// (confirmed in envd/go.mod) and the teacher orchestrator server's
// span-per-handler, graceful-shutdown idiom.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Kishor-9361/NET-sim/config"
	"github.com/Kishor-9361/NET-sim/model"
	"github.com/Kishor-9361/NET-sim/namespace"
	"github.com/Kishor-9361/NET-sim/observer"
	"github.com/Kishor-9361/NET-sim/pty"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"github.com/Kishor-9361/NET-sim/topology"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Server is the Control Server.
type Server struct {
	cfg      *config.Config
	ns       *namespace.Manager
	topology *topology.Manager
	pty      *pty.Manager
	observer *observer.Manager
	tracer   trace.Tracer
	metrics  *metrics
	failures *failureDispatcher
	router   *mux.Router
	http     *http.Server
}

func New(cfg *config.Config, ns *namespace.Manager, topo *topology.Manager, ptyMgr *pty.Manager, obsMgr *observer.Manager, tracer trace.Tracer) *Server {
	s := &Server{
		cfg:      cfg,
		ns:       ns,
		topology: topo,
		pty:      ptyMgr,
		observer: obsMgr,
		tracer:   tracer,
		metrics:  newMetrics(prometheus.DefaultRegisterer, ptyMgr, obsMgr),
		failures: newFailureDispatcher(),
	}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:         cfg.Host.String() + ":" + strconv.Itoa(cfg.Port),
		Handler:      handlers.CombinedLoggingHandler(&telemetryWriter{}, handlers.CORS()(s.router)),
		ReadTimeout:  cfg.ControlDeadline.Duration,
		WriteTimeout: 0, // streaming routes outlive the control deadline
	}
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/devices", s.handleCreateDevice).Methods(http.MethodPost)
	r.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{name}", s.handleInspectDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{name}", s.handleDeleteDevice).Methods(http.MethodDelete)
	r.HandleFunc("/devices/{name}/gateway", s.handleSetGateway).Methods(http.MethodPost)
	r.HandleFunc("/devices/{name}/exec", s.handleExecCommand).Methods(http.MethodPost)
	r.HandleFunc("/devices/{name}/failures", s.handleInjectFailure).Methods(http.MethodPost)
	r.HandleFunc("/devices/{name}/failures", s.handleListFailures).Methods(http.MethodGet)
	r.HandleFunc("/devices/{name}/failures/{kind}", s.handleClearFailure).Methods(http.MethodDelete)
	r.HandleFunc("/devices/{name}/terminal/{channel_id}", s.handleTerminal)

	r.HandleFunc("/links", s.handleCreateLink).Methods(http.MethodPost)
	r.HandleFunc("/links", s.handleListLinks).Methods(http.MethodGet)
	r.HandleFunc("/links/{id}", s.handleDeleteLink).Methods(http.MethodDelete)

	r.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/packets", s.handlePackets)

	r.Handle("/metrics", promhttp.Handler())
	r.Use(s.requestMetricsMiddleware)
	r.Use(recoverMiddleware)

	return r
}

// requestMetricsMiddleware records a request against control_requests_total,
// labeled by the matched route's path template and the final status code,
// so a stuck or error-prone route shows up without grepping the access log.
func (s *Server) requestMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rt := mux.CurrentRoute(r); rt != nil {
			if tmpl, err := rt.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// recoverMiddleware turns a panicking handler into an ErrInternal
// response carrying a correlation id, instead of taking the whole
// process down — control operations must fail cleanly, never crash the
// server out from under the rest of the topology (spec.md §7).
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err := model.NewInternal(fmt.Sprintf("panic: %v", rec), nil)
				telemetry.ReportCriticalError(r.Context(), err)
				writeError(w, err)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP listener and blocks until ctx is cancelled, at
// which point it shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.failures.drain(ctx, s.topology.Events())

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// telemetryWriter adapts the access log handlers.CombinedLoggingHandler
// wants onto the structured telemetry pipeline instead of stdout.
type telemetryWriter struct{}

func (telemetryWriter) Write(p []byte) (int, error) {
	telemetry.ReportEvent(context.Background(), string(p), attribute.String("component", "access-log"))
	return len(p), nil
}

