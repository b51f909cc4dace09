// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes the HTTP surface: rule ordering operations, policy
// compilation, tree repair and the websocket progress stream.
package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/assembler"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/compiler"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/config"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/install"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/metrics"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/rules"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/tree"
)

// Server handles API requests.
type Server struct {
	cfg       *config.Config
	store     *db.Store
	logger    *logging.Logger
	hub       *events.Hub
	collector *metrics.Metrics

	repos     map[string]*rules.Repository
	asm       *assembler.Assembler
	script    *compiler.ScriptService
	treeSvc   *tree.Service
	installer *install.Installer
	wsManager *wsManager

	router     *mux.Router
	httpServer *http.Server
}

// Options holds the server dependencies.
type Options struct {
	Config    *config.Config
	Store     *db.Store
	Logger    *logging.Logger
	Hub       *events.Hub
	Collector *metrics.Metrics
	Registry  prometheus.Registerer
}

// NewServer wires the service layer and the HTTP routes.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub()
	}
	collector := opts.Collector
	if collector == nil {
		collector = metrics.New()
		if opts.Registry != nil {
			if err := collector.Register(opts.Registry); err != nil {
				return nil, err
			}
		}
	}

	repos := make(map[string]*rules.Repository, len(rules.Families))
	for name, family := range rules.Families {
		repos[name] = rules.NewRepository(opts.Store, family, logger)
	}

	asm := assembler.New(opts.Store, logger)
	s := &Server{
		cfg:       opts.Config,
		store:     opts.Store,
		logger:    logger.WithComponent("api"),
		hub:       hub,
		collector: collector,
		repos:     repos,
		asm:       asm,
		script:    compiler.NewScriptService(opts.Store, opts.Config, asm, compiler.NewPolicyCompiler(logger), logger),
		treeSvc:   tree.NewService(opts.Store, logger),
		installer: install.New(opts.Store, opts.Config, logger),
		router:    mux.NewRouter(),
	}
	s.wsManager = newWSManager(hub, logger, collector)

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.countRequests)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Rule ordering engine, generic over rule families.
	api.HandleFunc("/rules/{family}", s.handleCreateRule).Methods("POST")
	api.HandleFunc("/rules/{family}", s.handleBulkUpdateRules).Methods("PUT")
	api.HandleFunc("/rules/{family}", s.handleBulkRemoveRules).Methods("DELETE")
	api.HandleFunc("/rules/{family}/move", s.handleMoveRules).Methods("PUT")
	api.HandleFunc("/rules/{family}/copy", s.handleCopyRules).Methods("POST")
	api.HandleFunc("/rules/{family}/last", s.handleLastRule).Methods("GET")
	api.HandleFunc("/rules/{family}/{id:[0-9]+}", s.handleUpdateRule).Methods("PUT")
	api.HandleFunc("/rules/{family}/{id:[0-9]+}", s.handleRemoveRule).Methods("DELETE")

	// Rule data assembler and policy compiler.
	fw := api.PathPrefix("/fwcloud/{fwcloud:[0-9]+}/firewall/{firewall:[0-9]+}").Subrouter()
	fw.HandleFunc("/policy/data/{dest}", s.handleRuleData).Methods("GET")
	fw.HandleFunc("/policy/compile", s.handleCompile).Methods("POST")
	fw.HandleFunc("/policy/compile/preview", s.handleCompilePreview).Methods("POST")
	fw.HandleFunc("/policy/diff", s.handlePolicyDiff).Methods("POST")
	fw.HandleFunc("/policy/install", s.handleInstall).Methods("POST")

	// Service configuration compilers (dhcpd.conf, haproxy.cfg, keepalived.conf).
	fw.HandleFunc("/service/{kind}/compile", s.handleServiceCompile).Methods("POST")
	fw.HandleFunc("/service/{kind}/install", s.handleServiceInstall).Methods("POST")

	// Tree repair and export.
	cloud := api.PathPrefix("/fwcloud/{fwcloud:[0-9]+}").Subrouter()
	cloud.HandleFunc("/tree/repair", s.handleRepair).Methods("PUT")
	cloud.HandleFunc("/tree/export", s.handleTreeExport).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWS)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// countRequests counts requests per route template and status code.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.collector.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps the websocket upgrade working through the wrapped writer.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New(errors.KindInternal, "response writer does not support hijacking")
	}
	return h.Hijack()
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "addr", s.cfg.Listen)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"healthy": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"healthy": true})
}
