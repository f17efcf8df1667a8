package schema

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uho-indexer/uho/internal/uhoerrors"
)

// validNamespacePattern mirrors internal/db.ValidNamespace's tenant
// schema naming convention; duplicated rather than imported to avoid a
// schema<->db import cycle (internal/db already imports internal/schema
// for its own identifier validation).
var validNamespacePattern = regexp.MustCompile(`^u_[a-f0-9]{8,12}$`)

// RefreshJob pairs a compiled view name with the interval it should be
// refreshed at.
type RefreshJob struct {
	ViewName string
	Interval time.Duration
}

// RefreshScheduler runs one ticker goroutine per tenant namespace,
// refreshing each registered materialized view on its own interval,
// serialized so two REFRESHes never race on the same relation. The
// ticker/select shape mirrors the teacher's CheckpointCommitter 5s loop.
type RefreshScheduler struct {
	pool      *pgxpool.Pool
	namespace string

	mu   sync.Mutex
	jobs []refreshState
}

type refreshState struct {
	job      RefreshJob
	lastRun  time.Time
}

func NewRefreshScheduler(pool *pgxpool.Pool, namespace string) *RefreshScheduler {
	return &RefreshScheduler{pool: pool, namespace: namespace}
}

// Register adds a view to the scheduler's rotation. Must be called
// before Start.
func (s *RefreshScheduler) Register(job RefreshJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, refreshState{job: job})
}

// Start polls every tickInterval (typically the GCD of registered view
// intervals, 5s by default) and refreshes any view whose own interval
// has elapsed, one at a time.
func (s *RefreshScheduler) Start(ctx context.Context, tickInterval time.Duration) {
	if tickInterval <= 0 {
		tickInterval = 5 * time.Second
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshDue(ctx)
		}
	}
}

func (s *RefreshScheduler) refreshDue(ctx context.Context) {
	s.mu.Lock()
	due := make([]string, 0, len(s.jobs))
	now := time.Now()
	for i := range s.jobs {
		js := &s.jobs[i]
		if now.Sub(js.lastRun) >= js.job.Interval {
			due = append(due, js.job.ViewName)
			js.lastRun = now
		}
	}
	s.mu.Unlock()

	for _, view := range due {
		if err := s.refreshOne(ctx, view); err != nil {
			log.Printf("[schema] refresh of %s/%s failed: %v", s.namespace, view, err)
		}
	}
}

func (s *RefreshScheduler) refreshOne(ctx context.Context, viewName string) error {
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if !validNamespacePattern.MatchString(s.namespace) {
		return uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid tenant namespace %q", s.namespace)
	}
	qSchema := fmt.Sprintf("%q", s.namespace)
	qView, err := quoteIdent(viewName)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(rctx, fmt.Sprintf("REFRESH MATERIALIZED VIEW %s.%s", qSchema, qView))
	return err
}
