// Package supervisor implements the Supervisor (C10): it holds the
// subscriptionId → PipelineHandle map, reconciles against the
// control-plane's running subscriptions at startup and after every
// mutation, and drives pause/resume/archive transitions. Grounded on
// the teacher's internal/webhooks orchestrator (consume-loop lifecycle)
// generalized into a registry of independently cancellable pipelines.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uho-indexer/uho/internal/db"
	"github.com/uho-indexer/uho/internal/fanout"
	"github.com/uho-indexer/uho/internal/idl"
	"github.com/uho-indexer/uho/internal/ingest"
	"github.com/uho-indexer/uho/internal/schema"
	"github.com/uho-indexer/uho/internal/solrpc"
	"github.com/uho-indexer/uho/internal/webhook"
)

type pipelineHandle struct {
	cancel    context.CancelFunc
	done      chan struct{}
	programID string
	refresher *schema.RefreshScheduler
}

// programWatch tracks the single webhook-dispatcher watcher running for
// one programId, shared across every subscription on that program since
// the fanout bus topic is keyed by programId alone (§4.8) — two
// subscriptions on the same program must not each spawn their own
// watcher, or a matching webhook would receive every message twice.
type programWatch struct {
	cancel   context.CancelFunc
	refCount int
}

// Supervisor owns the live pipeline set. One PipelineHandle exists per
// running subscription; it bundles that subscription's Poller and a
// reference into its program's shared dispatcher watch.
type Supervisor struct {
	cp             *db.ControlPlane
	pool           *db.Pool
	writer         *ingest.Writer
	bus            *fanout.Bus
	dispatcher     *webhook.Dispatcher
	rpc            *solrpc.Client
	pollIntervalMs int
	logger         zerolog.Logger

	mu        sync.Mutex
	pipelines map[string]*pipelineHandle // subscriptionId -> handle
	watches   map[string]*programWatch  // programId -> shared dispatcher watch
}

func New(cp *db.ControlPlane, pool *db.Pool, writer *ingest.Writer, bus *fanout.Bus, dispatcher *webhook.Dispatcher, rpcClient *solrpc.Client, pollIntervalMs int) *Supervisor {
	return &Supervisor{
		cp:             cp,
		pool:           pool,
		writer:         writer,
		bus:            bus,
		dispatcher:     dispatcher,
		rpc:            rpcClient,
		pollIntervalMs: pollIntervalMs,
		logger:         log.With().Str("component", "supervisor").Logger(),
		pipelines:      make(map[string]*pipelineHandle),
		watches:        make(map[string]*programWatch),
	}
}

// Reconcile starts a pipeline for every subscription with status=running
// that isn't already tracked, and stops any tracked pipeline whose
// subscription fell out of that set. Call at startup and after any
// control-plane mutation (§4.10).
func (s *Supervisor) Reconcile(ctx context.Context) error {
	running, err := s.cp.ListRunningSubscriptions(ctx)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(running))
	for _, sub := range running {
		wanted[sub.ID] = true
		s.mu.Lock()
		_, tracked := s.pipelines[sub.ID]
		s.mu.Unlock()
		if tracked {
			continue
		}
		if err := s.startPipeline(ctx, sub); err != nil {
			s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("[Supervisor] start pipeline failed")
		}
	}

	s.mu.Lock()
	var stale []string
	for id := range s.pipelines {
		if !wanted[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.stop(id)
	}
	return nil
}

func (s *Supervisor) startPipeline(ctx context.Context, sub db.Subscription) error {
	descriptor, err := idl.Parse(sub.IDL)
	if err != nil {
		return err
	}
	enablement, err := s.cp.GetEnablement(ctx, sub.ID)
	if err != nil {
		return err
	}
	filtered := schema.FilterDescriptor(descriptor, enablement)

	// One subscription uniquely ties one tenant to one program, so the
	// subscriber set the Poller attaches to every fanout message is
	// always this single id (see internal/webhook dispatcher.go).
	subscriberIDs := func() []string { return []string{sub.ID} }
	poller := ingest.NewPoller(s.rpc, s.writer, filtered, sub.Namespace, s.pollIntervalMs, subscriberIDs)

	views, err := s.cp.ViewsForSubscription(ctx, sub.ID)
	if err != nil {
		return err
	}
	refresher := schema.NewRefreshScheduler(s.pool.Pool, sub.Namespace)
	for _, v := range views {
		refresher.Register(schema.RefreshJob{ViewName: v.Definition.Name, Interval: time.Duration(v.RefreshIntervalSeconds) * time.Second})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.pipelines[sub.ID] = &pipelineHandle{cancel: cancel, done: done, programID: sub.ProgramID, refresher: refresher}
	s.acquireWatchLocked(sub.ProgramID)
	s.mu.Unlock()

	go refresher.Start(runCtx, 5*time.Second)
	go func() {
		defer close(done)
		poller.Start(runCtx)
	}()
	return nil
}

// RegisterView adds a freshly-compiled view to subscriptionID's running
// RefreshScheduler so it starts rotating in on the scheduler's very next
// tick, without waiting for the pipeline to restart. The caller is
// responsible for having already persisted the view and applied its
// `CREATE MATERIALIZED VIEW` DDL.
func (s *Supervisor) RegisterView(subscriptionID string, job schema.RefreshJob) error {
	s.mu.Lock()
	h, ok := s.pipelines[subscriptionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription %s has no running pipeline to register a view against", subscriptionID)
	}
	h.refresher.Register(job)
	return nil
}

// acquireWatchLocked starts (or bumps the refcount of) the shared
// dispatcher watcher for programID. Caller holds s.mu.
func (s *Supervisor) acquireWatchLocked(programID string) {
	if w, ok := s.watches[programID]; ok {
		w.refCount++
		return
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	s.watches[programID] = &programWatch{cancel: cancel, refCount: 1}
	go s.dispatcher.Watch(watchCtx, s.bus, programID)
}

func (s *Supervisor) releaseWatchLocked(programID string) {
	w, ok := s.watches[programID]
	if !ok {
		return
	}
	w.refCount--
	if w.refCount <= 0 {
		w.cancel()
		delete(s.watches, programID)
	}
}

// Pause stops subscriptionID's pipeline while preserving its checkpoint
// row, so a later Resume continues from where it left off.
func (s *Supervisor) Pause(ctx context.Context, subscriptionID string) error {
	if err := s.cp.SetStatus(ctx, subscriptionID, "paused"); err != nil {
		return err
	}
	s.stop(subscriptionID)
	return nil
}

// Resume marks subscriptionID running again and reconciles it back into
// the live pipeline set; the Poller re-reads its stored checkpoint on
// its first tick rather than starting over.
func (s *Supervisor) Resume(ctx context.Context, subscriptionID string) error {
	if err := s.cp.SetStatus(ctx, subscriptionID, "running"); err != nil {
		return err
	}
	return s.Reconcile(ctx)
}

// Archive tears down the pipeline and hides the subscription from
// future reconciliation; tenant tables are left in place.
func (s *Supervisor) Archive(ctx context.Context, subscriptionID string) error {
	if err := s.cp.SetStatus(ctx, subscriptionID, "archived"); err != nil {
		return err
	}
	s.stop(subscriptionID)
	return nil
}

func (s *Supervisor) stop(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.pipelines[subscriptionID]
	if !ok {
		return
	}
	h.cancel()
	delete(s.pipelines, subscriptionID)
	s.releaseWatchLocked(h.programID)
}

// Shutdown cancels every tracked pipeline and dispatcher watch, waiting
// up to deadline for their goroutines to exit before returning.
func (s *Supervisor) Shutdown(deadline time.Duration) {
	s.mu.Lock()
	handles := make([]*pipelineHandle, 0, len(s.pipelines))
	for id, h := range s.pipelines {
		h.cancel()
		handles = append(handles, h)
		delete(s.pipelines, id)
	}
	for programID, w := range s.watches {
		w.cancel()
		delete(s.watches, programID)
	}
	s.mu.Unlock()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for _, h := range handles {
		select {
		case <-h.done:
		case <-timer.C:
			return
		}
	}
}
