// Package api exposes Uho's control-plane and query surface over HTTP:
// registerProgram/setStatus/setEnablement/createBackfill and friends
// inbound, listEvents/getEventByTx/countEvents and a typed WebSocket
// subscription stream outbound (§6). Grounded on the teacher's
// internal/api server_bootstrap.go (gorilla/mux router, CORS+rate-limit
// middleware chain, graceful http.Server Shutdown).
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uho-indexer/uho/internal/backfill"
	"github.com/uho-indexer/uho/internal/db"
	"github.com/uho-indexer/uho/internal/fanout"
	"github.com/uho-indexer/uho/internal/solrpc"
	"github.com/uho-indexer/uho/internal/supervisor"
)

// Server bundles every dependency the HTTP surface needs: the control
// plane for subscription/webhook CRUD, the tenant pool for event
// queries, the supervisor for lifecycle transitions, the backfill
// manager for on-demand jobs, the fanout bus for the WebSocket hub, and
// an RPC client solely for the /readyz readiness probe.
type Server struct {
	cp          *db.ControlPlane
	pool        *db.Pool
	supervisor  *supervisor.Supervisor
	backfillMgr *backfill.Manager
	bus         *fanout.Bus
	rpc         *solrpc.Client
	httpServer  *http.Server
	hub         *Hub
	logger      zerolog.Logger
}

// NewServer builds the router, wires every route group, and returns a
// Server ready for Start. port is the bind port (no leading colon).
// jwtSecret signs the bearer tokens required by the control-plane
// mutating routes (§6); the query and WebSocket surface stays open.
func NewServer(cp *db.ControlPlane, pool *db.Pool, sup *supervisor.Supervisor, backfillMgr *backfill.Manager, bus *fanout.Bus, rpcClient *solrpc.Client, port int, jwtSecret string) *Server {
	s := &Server{
		cp:          cp,
		pool:        pool,
		supervisor:  sup,
		backfillMgr: backfillMgr,
		bus:         bus,
		rpc:         rpcClient,
		hub:         newHub(bus),
		logger:      log.With().Str("component", "api").Logger(),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	registerHealthRoutes(r, s)

	auth := NewAuthMiddleware(jwtSecret)
	cpRouter := r.PathPrefix("/").Subrouter()
	cpRouter.Use(auth.Middleware)
	registerControlPlaneRoutes(cpRouter, s)

	registerQueryRoutes(r, s)
	registerWebSocketRoutes(r, s)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the hub's dispatch loop and serves HTTP until Shutdown.
func (s *Server) Start() error {
	go s.hub.run()
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("[api] listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
