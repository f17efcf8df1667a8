package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/mux"
)

func registerHealthRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
}

// handleHealthz reports process liveness only — it never touches the DB
// or the RPC node, so a slow dependency can't make the process look dead
// to an orchestrator's liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReadyz reports readiness: the control-plane pool must answer a
// trivial query and the RPC client must answer getSlot within a short
// deadline, per SPEC_FULL.md §8.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		ready = false
	} else {
		checks["db"] = "ok"
	}

	if s.rpc != nil {
		if _, err := s.rpc.GetCurrentSlot(ctx, rpc.CommitmentConfirmed); err != nil {
			checks["rpc"] = err.Error()
			ready = false
		} else {
			checks["rpc"] = "ok"
		}
	}

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{"ready": ready, "checks": checks})
}
