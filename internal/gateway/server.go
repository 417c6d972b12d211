// Package gateway is the fleetd HTTP/WebSocket surface: task and run
// control, queue introspection, robot and POI views, and the live
// event stream.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/fleetd/internal/assign"
	"github.com/dohr-michael/fleetd/internal/events"
	"github.com/dohr-michael/fleetd/internal/gateway/ws"
	"github.com/dohr-michael/fleetd/internal/metrics"
	"github.com/dohr-michael/fleetd/internal/orchestrator"
	"github.com/dohr-michael/fleetd/internal/poi"
	"github.com/dohr-michael/fleetd/internal/queue"
	"github.com/dohr-michael/fleetd/internal/robots"
	"github.com/dohr-michael/fleetd/internal/store"
	"github.com/dohr-michael/fleetd/internal/vendor"
	"github.com/dohr-michael/fleetd/internal/workflow"
)

// Deps bundles everything the gateway exposes.
type Deps struct {
	Store    *store.Store
	Queue    *queue.Manager
	Engine   *assign.Engine
	Executor *workflow.Executor
	Orch     *orchestrator.Orchestrator
	View     *robots.View
	Mapper   *poi.Mapper
	Syncer   *poi.Syncer
	Vendor   *vendor.Resilient
	Bus      *events.Bus
	Metrics  *metrics.Metrics
}

// Server is the fleetd gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	deps       Deps
	host       string
	port       int
}

// NewServer wires the routes and the WebSocket hub.
func NewServer(deps Deps, host string, port int) *Server {
	hub := ws.NewHub(deps.Bus)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:  hub,
		deps: deps,
		host: host,
		port: port,
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Post("/api/tick", s.handleTick)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Get("/{id}", s.handleGetTask)
		r.Post("/{id}/cancel", s.handleCancelTask)
		r.Post("/{id}/unassign", s.handleUnassignTask)
		r.Get("/{id}/priority", s.handleGetOverride)
		r.Put("/{id}/priority", s.handleSetOverride)
		r.Delete("/{id}/priority", s.handleClearOverride)
	})

	r.Route("/api/queue", func(r chi.Router) {
		r.Get("/", s.handleQueue)
		r.Get("/stats", s.handleQueueStats)
	})

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Post("/{id}/confirm", s.handleConfirmRun)
		r.Post("/{id}/cancel", s.handleCancelRun)
	})

	r.Get("/api/robots", s.handleRobots)

	r.Route("/api/pois", func(r chi.Router) {
		r.Get("/", s.handleListPOIs)
		r.Post("/sync", s.handleSyncPOIs)
	})
	r.Route("/api/poi-mappings", func(r chi.Router) {
		r.Get("/", s.handleListMappings)
		r.Put("/", s.handleUpsertMapping)
		r.Delete("/", s.handleDeleteMapping)
	})

	r.Route("/api/system", func(r chi.Router) {
		r.Get("/safe-mode", s.handleGetSafeMode)
		r.Post("/safe-mode", s.handleSetSafeMode)
		r.Post("/reset", s.handleReset)
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("fleetd gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
