package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/uho-indexer/uho/internal/backfill"
	"github.com/uho-indexer/uho/internal/db"
	"github.com/uho-indexer/uho/internal/idl"
	"github.com/uho-indexer/uho/internal/schema"
	"github.com/uho-indexer/uho/internal/uhoerrors"
)

func registerControlPlaneRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/subscriptions", s.handleRegisterSubscription).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/subscriptions/{id}/status", s.handleSetStatus).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/subscriptions/{id}/enablement", s.handleSetEnablement).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/subscriptions/{id}/backfill", s.handleCreateBackfill).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/subscriptions/{id}/views", s.handleCreateView).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/backfill/{jobId}", s.handleGetBackfill).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/backfill/{jobId}/cancel", s.handleCancelBackfill).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/backfill/{jobId}/retry", s.handleRetryBackfill).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/webhooks", s.handleCreateWebhook).Methods(http.MethodPost, http.MethodOptions)
}

type registerSubscriptionRequest struct {
	TenantID     string            `json:"tenantId"`
	RawIDL       string            `json:"rawIdl"`
	ProgramID    string            `json:"programId"`
	Chain        string            `json:"chain"`
	Name         string            `json:"name"`
	Enablement   []enablementEntry `json:"enablement"`
	FeatureFlags featureFlagsInput `json:"featureFlags"`
}

type featureFlagsInput struct {
	CPITransfers  bool `json:"cpiTransfers"`
	BalanceDeltas bool `json:"balanceDeltas"`
}

type enablementEntry struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

type registerSubscriptionResponse struct {
	SubscriptionID string `json:"subscriptionId"`
}

// handleRegisterSubscription implements registerProgram(tenantId, rawIdl,
// programId, chain, enablement, featureFlags) → subscriptionId (§6): it
// normalizes the IDL, mints a tenant namespace, applies DDL for the
// requested enablement, persists the subscription and its enablement
// rows, then reconciles the supervisor so the new pipeline starts
// immediately.
func (s *Server) handleRegisterSubscription(w http.ResponseWriter, r *http.Request) {
	var req registerSubscriptionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "malformed request body: %v", err))
		return
	}

	descriptor, err := idl.Parse([]byte(req.RawIDL))
	if err != nil {
		writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeInvalidIDL, "%v", err))
		return
	}
	if req.ProgramID != "" && req.ProgramID != descriptor.ProgramID {
		writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "programId %q does not match IDL address %q", req.ProgramID, descriptor.ProgramID))
		return
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = callerIDFromContext(r.Context())
	}
	req.TenantID = tenantID

	chain := req.Chain
	if chain == "" {
		chain = "solana"
	}
	name := req.Name
	if name == "" {
		name = descriptor.ProgramName
	}

	enablement := make([]schema.Enablement, 0, len(req.Enablement))
	for _, e := range req.Enablement {
		enablement = append(enablement, schema.Enablement{
			Name:    e.Name,
			Type:    schema.EnablementKind(e.Type),
			Enabled: e.Enabled,
		})
	}

	namespace := db.NewNamespace()
	ctx := r.Context()
	if err := s.pool.EnsureNamespace(ctx, namespace); err != nil {
		writeError(w, err)
		return
	}

	stmts, err := schema.DDL(descriptor, enablement, schema.FeatureFlags{
		CPITransfers:  req.FeatureFlags.CPITransfers,
		BalanceDeltas: req.FeatureFlags.BalanceDeltas,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pool.ApplyDDL(ctx, namespace, stmts); err != nil {
		writeError(w, err)
		return
	}

	subID, err := s.cp.CreateSubscription(ctx, db.Subscription{
		TenantID:  req.TenantID,
		Namespace: namespace,
		ProgramID: descriptor.ProgramID,
		Name:      name,
		IDL:       []byte(req.RawIDL),
		Chain:     chain,
		Status:    "running",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.cp.SetEnablement(ctx, subID, enablement); err != nil {
		writeError(w, err)
		return
	}

	if err := s.supervisor.Reconcile(ctx); err != nil {
		s.logger.Error().Err(err).Msg("[api] reconcile after register failed")
	}

	writeJSON(w, http.StatusCreated, registerSubscriptionResponse{SubscriptionID: subID})
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// handleSetStatus implements setStatus(subscriptionId, {running|paused|
// archived}) (§6) by delegating to the supervisor's Pause/Resume/Archive
// transitions, which own the checkpoint-preservation contract.
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req setStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "malformed request body: %v", err))
		return
	}

	ctx := r.Context()
	var err error
	switch req.Status {
	case "running":
		err = s.supervisor.Resume(ctx, id)
	case "paused":
		err = s.supervisor.Pause(ctx, id)
	case "archived":
		err = s.supervisor.Archive(ctx, id)
	default:
		err = uhoerrors.NewValidationError(uhoerrors.CodeValidation, "unknown status %q", req.Status)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

type setEnablementRequest struct {
	Entries []enablementEntry `json:"entries"`
}

// handleSetEnablement implements setEnablement(subscriptionId, {name,
// type, enabled}[]) (§6). Changing enablement does not retroactively
// compile DDL for newly-enabled names here — that is a deliberate scope
// line: re-running registerProgram's DDL step against a live namespace
// is the supported path for adding tables, matching §4.2's enablement
// invariant that DDL is only ever additive per compile pass.
func (s *Server) handleSetEnablement(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req setEnablementRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "malformed request body: %v", err))
		return
	}

	entries := make([]schema.Enablement, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, schema.Enablement{
			Name:    e.Name,
			Type:    schema.EnablementKind(e.Type),
			Enabled: e.Enabled,
		})
	}

	ctx := r.Context()
	if err := s.cp.SetEnablement(ctx, id, entries); err != nil {
		writeError(w, err)
		return
	}
	if err := s.supervisor.Reconcile(ctx); err != nil {
		s.logger.Error().Err(err).Msg("[api] reconcile after enablement change failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"subscriptionId": id})
}

type createBackfillRequest struct {
	StartSlot *uint64 `json:"startSlot"`
	EndSlot   *uint64 `json:"endSlot"`
}

type createBackfillResponse struct {
	JobID string `json:"jobId"`
}

// handleCreateBackfill implements createBackfill(subscriptionId,
// requestedRange?) → jobId (§6).
func (s *Server) handleCreateBackfill(w http.ResponseWriter, r *http.Request) {
	subID := mux.Vars(r)["id"]
	var req createBackfillRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "malformed request body: %v", err))
			return
		}
	}

	ctx := r.Context()
	sub, err := s.cp.GetSubscription(ctx, subID)
	if err != nil {
		writeError(w, err)
		return
	}

	jobID, err := s.backfillMgr.Create(ctx, sub.TenantID, subID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.backfillMgr.Start(ctx, jobID, backfill.Range{StartSlot: req.StartSlot, EndSlot: req.EndSlot}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createBackfillResponse{JobID: jobID})
}

func (s *Server) handleGetBackfill(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	job, err := s.backfillMgr.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelBackfill implements cancelBackfill(jobId) (§6).
func (s *Server) handleCancelBackfill(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	s.backfillMgr.Cancel(jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "cancelling"})
}

// handleRetryBackfill implements retryBackfill(jobId) (§6).
func (s *Server) handleRetryBackfill(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	newID, err := s.backfillMgr.Retry(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createBackfillResponse{JobID: newID})
}

type createViewRequest struct {
	Name                   string            `json:"name"`
	Source                 string            `json:"source"`
	GroupBy                []string          `json:"groupBy"`
	Select                 []selectExprInput `json:"select"`
	Where                  []whereCondInput  `json:"where"`
	RefreshIntervalSeconds int               `json:"refreshIntervalSeconds"`
}

type selectExprInput struct {
	Aggregate string `json:"aggregate"`
	Field     string `json:"field"`
	Alias     string `json:"alias"`
}

type whereCondInput struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type createViewResponse struct {
	ViewID string `json:"viewId"`
}

// handleCreateView implements the supplemented view-registration
// operation (§6.1): compile the caller's declarative view against the
// subscription's IDL, apply it as `CREATE MATERIALIZED VIEW` in the
// subscription's namespace, persist the definition, and hand it to the
// supervisor's running RefreshScheduler for that subscription so it
// starts refreshing on the requested interval immediately.
func (s *Server) handleCreateView(w http.ResponseWriter, r *http.Request) {
	subID := mux.Vars(r)["id"]
	var req createViewRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "malformed request body: %v", err))
		return
	}
	if req.RefreshIntervalSeconds <= 0 {
		writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "refreshIntervalSeconds must be positive"))
		return
	}

	ctx := r.Context()
	sub, err := s.cp.GetSubscription(ctx, subID)
	if err != nil {
		writeError(w, err)
		return
	}
	descriptor, err := idl.Parse(sub.IDL)
	if err != nil {
		writeError(w, err)
		return
	}

	selects := make([]schema.SelectExpr, 0, len(req.Select))
	for _, sel := range req.Select {
		selects = append(selects, schema.SelectExpr{Aggregate: schema.Aggregate(sel.Aggregate), Field: sel.Field, Alias: sel.Alias})
	}
	wheres := make([]schema.WhereCond, 0, len(req.Where))
	for _, wc := range req.Where {
		wheres = append(wheres, schema.WhereCond{Field: wc.Field, Op: schema.CompareOp(wc.Op), Value: wc.Value})
	}
	view := schema.View{Name: req.Name, Source: req.Source, GroupBy: req.GroupBy, Select: selects, Where: wheres}

	ddl, err := schema.CompileView(descriptor, view)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pool.ApplyDDL(ctx, sub.Namespace, []string{ddl}); err != nil {
		writeError(w, err)
		return
	}

	viewID, err := s.cp.CreateView(ctx, subID, view, req.RefreshIntervalSeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	job := schema.RefreshJob{ViewName: view.Name, Interval: time.Duration(req.RefreshIntervalSeconds) * time.Second}
	if err := s.supervisor.RegisterView(subID, job); err != nil {
		s.logger.Error().Err(err).Str("subscription_id", subID).Msg("[api] register view with scheduler failed")
	}

	writeJSON(w, http.StatusCreated, createViewResponse{ViewID: viewID})
}

type createWebhookRequest struct {
	TenantID       string   `json:"tenantId"`
	SubscriptionID string   `json:"subscriptionId"`
	URL            string   `json:"url"`
	Events         []string `json:"events"`
}

type createWebhookResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// handleCreateWebhook implements createWebhook(tenantId, subscriptionId,
// url, events[]) → {id, secret} (§6). No field filter is accepted, so a
// webhook created here carries no FieldFilter. The secret is returned
// exactly once, in this response — it is never exposed by any other
// endpoint.
func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "malformed request body: %v", err))
		return
	}
	if req.URL == "" {
		writeError(w, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "url is required"))
		return
	}

	secret, err := newWebhookSecret()
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := s.cp.CreateWebhook(r.Context(), db.Webhook{
		TenantID:       req.TenantID,
		SubscriptionID: req.SubscriptionID,
		URL:            req.URL,
		Secret:         secret,
		EventFilter:    req.Events,
		Active:         true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createWebhookResponse{ID: id, Secret: secret})
}
