package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepExpired(ctx context.Context) (int, error) {
	s.calls.Add(1)
	if s.err != nil {
		return 0, s.err
	}
	return 2, nil
}

func TestExpiryScheduler_RunsOnStartAndTicks(t *testing.T) {
	// GIVEN: A scheduler with a short interval
	sweeper := &countingSweeper{}
	es := NewExpiryScheduler(sweeper)
	es.CheckInterval = 10 * time.Millisecond

	// WHEN: Started
	es.Start()
	es.Start() // second start is a no-op

	// THEN: It sweeps immediately and again on ticks
	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	es.Stop()
	es.Stop()

	stopped := sweeper.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, sweeper.calls.Load(), "no sweeps after Stop")
	assert.False(t, es.LastRun().IsZero())
}

func TestExpiryScheduler_DisabledNeverRuns(t *testing.T) {
	sweeper := &countingSweeper{}
	es := NewExpiryScheduler(sweeper)
	es.Enabled = false
	es.CheckInterval = time.Millisecond

	es.Start()
	time.Sleep(20 * time.Millisecond)
	es.Stop()

	assert.EqualValues(t, 0, sweeper.calls.Load())
	assert.True(t, es.LastRun().IsZero())
}

func TestExpiryScheduler_RunNow(t *testing.T) {
	sweeper := &countingSweeper{}
	es := NewExpiryScheduler(sweeper)

	n, err := es.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, es.LastRun().IsZero())

	failing := &countingSweeper{err: errors.New("database is locked")}
	es = NewExpiryScheduler(failing)
	_, err = es.RunNow(context.Background())
	assert.Error(t, err)
	assert.True(t, es.LastRun().IsZero(), "failed sweeps do not count as a run")
}

func TestExpiryScheduler_DrivesEngine(t *testing.T) {
	// GIVEN: An overdue lead and a scheduler over the real engine
	ts := setupTestServer(t)
	lead := ts.createLead(t, "owner-1", "1k_5k", "standard")
	ts.clock.Advance(7*24*time.Hour + time.Minute)

	es := NewExpiryScheduler(ts.engine)
	n, err := es.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec := ts.do(t, "GET", "/api/leads/"+lead.ID, "", nil)
	assert.Equal(t, "expired", decode[LeadDTO](t, rec).Status)
}
