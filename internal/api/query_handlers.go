package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/uho-indexer/uho/internal/db"
	"github.com/uho-indexer/uho/internal/idl"
	"github.com/uho-indexer/uho/internal/uhoerrors"
)

func registerQueryRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/tenants/{tenantId}/programs/{programName}/events/{eventName}", s.handleListEvents).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/tenants/{tenantId}/programs/{programName}/events/{eventName}/count", s.handleCountEvents).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/tenants/{tenantId}/programs/{programName}/events/{eventName}/tx/{txSignature}", s.handleGetEventByTx).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/tenants/{tenantId}/programs/{programName}/tx/{txSignature}/logs", s.handleGetTxLogs).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/tenants/{tenantId}/usage", s.handleGetUsage).Methods(http.MethodGet, http.MethodOptions)
}

// reservedQueryParams are the paging/ordering keys, everything else on
// the query string is treated as an equality filter on a column name
// per §6's "filters include ... equality on any known column".
var reservedQueryParams = map[string]bool{
	"slotFrom": true, "slotTo": true, "from": true, "to": true,
	"orderBy": true, "direction": true, "limit": true, "offset": true,
}

func (s *Server) resolveNamespace(r *http.Request) (*db.Subscription, error) {
	vars := mux.Vars(r)
	return s.cp.GetSubscriptionByTenantAndName(r.Context(), vars["tenantId"], vars["programName"])
}

func parseEventFilter(r *http.Request) (db.EventFilter, error) {
	q := r.URL.Query()
	filter := db.EventFilter{
		OrderBy:   q.Get("orderBy"),
		Direction: db.OrderDirection(q.Get("direction")),
		Equals:    map[string]any{},
	}

	if v := q.Get("slotFrom"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid slotFrom: %v", err)
		}
		filter.SlotFrom = &n
	}
	if v := q.Get("slotTo"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid slotTo: %v", err)
		}
		filter.SlotTo = &n
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid from: %v", err)
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid to: %v", err)
		}
		filter.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return filter, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "limit must be in [1,1000]")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid offset")
		}
		filter.Offset = n
	}
	for k, vs := range q {
		if reservedQueryParams[k] || len(vs) == 0 {
			continue
		}
		filter.Equals[k] = vs[0]
	}
	return filter, nil
}

// handleListEvents implements listEvents(tenantId, programName,
// eventName, filters, paging) → rows[] (§6).
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := s.resolveNamespace(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	eventName := mux.Vars(r)["eventName"]
	rows, err := s.pool.ListEvents(r.Context(), sub.Namespace, subProgramName(sub), eventName, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

// handleGetEventByTx implements getEventByTx(tenantId, programName,
// eventName, txSignature) → rows[] (§6).
func (s *Server) handleGetEventByTx(w http.ResponseWriter, r *http.Request) {
	sub, err := s.resolveNamespace(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	rows, err := s.pool.GetEventByTx(r.Context(), sub.Namespace, subProgramName(sub), vars["eventName"], vars["txSignature"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

// handleCountEvents implements countEvents(tenantId, programName,
// eventName) → count (§6).
func (s *Server) handleCountEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := s.resolveNamespace(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	count, err := s.pool.CountEvents(r.Context(), sub.Namespace, subProgramName(sub), vars["eventName"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// handleGetTxLogs implements the supplemented deep-dive query
// getTxLogs(tenantId, programName, txSignature) → {slot, logMessages[]}
// (§5.1): it reads the raw log lines a transaction emitted regardless
// of whether it produced any recognized event or instruction row.
func (s *Server) handleGetTxLogs(w http.ResponseWriter, r *http.Request) {
	sub, err := s.resolveNamespace(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	logs, err := s.pool.GetTxLogs(r.Context(), sub.Namespace, vars["txSignature"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleGetUsage implements the supplemented read-only per-tenant usage
// view (§5.2): events/instructions indexed and active backfill jobs,
// computed on demand — not a billing or metering surface.
func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]
	snap, err := s.cp.GetUsageSnapshot(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// subProgramName is the schema-compiler program name event/instruction
// tables are prefixed with: the IDL's normalized program name, which a
// caller-chosen subscription name need not match.
func subProgramName(sub *db.Subscription) string {
	if descriptor, err := idl.Parse(sub.IDL); err == nil {
		return descriptor.ProgramName
	}
	return sub.Name
}
