package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshSchedulerRegisterAccumulatesJobs(t *testing.T) {
	s := NewRefreshScheduler(nil, "u_abcdef01")
	s.Register(RefreshJob{ViewName: "view_a", Interval: 10 * time.Second})
	s.Register(RefreshJob{ViewName: "view_b", Interval: 30 * time.Second})

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.jobs, 2)
	assert.Equal(t, "view_a", s.jobs[0].job.ViewName)
	assert.Equal(t, "view_b", s.jobs[1].job.ViewName)
}

func TestRefreshDueOnlySelectsElapsedIntervals(t *testing.T) {
	// An invalid namespace makes refreshOne fail before it touches the
	// nil pool; refreshDue still stamps lastRun on every job it selected.
	s := NewRefreshScheduler(nil, "not a namespace")
	s.jobs = []refreshState{
		{job: RefreshJob{ViewName: "due", Interval: time.Millisecond}, lastRun: time.Now().Add(-time.Hour)},
		{job: RefreshJob{ViewName: "not_due", Interval: time.Hour}, lastRun: time.Now().Add(-time.Second)},
	}

	before := time.Now()
	s.refreshDue(context.Background())

	s.mu.Lock()
	due := make([]string, 0, len(s.jobs))
	for i := range s.jobs {
		js := &s.jobs[i]
		if !js.lastRun.Before(before) {
			due = append(due, js.job.ViewName)
		}
	}
	s.mu.Unlock()

	assert.Equal(t, []string{"due"}, due)
}

func TestRefreshOneRejectsInvalidNamespace(t *testing.T) {
	s := NewRefreshScheduler(nil, "not a namespace")
	err := s.refreshOne(context.Background(), "view_a")
	assert.Error(t, err)
}
