package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	applogger "FinScan/pkg/logger"
)

func TestDailyAtNext(t *testing.T) {
	s := DailyAt(18, 30, time.UTC)
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	if got := s.Next(now); !got.Equal(time.Date(2025, 3, 4, 18, 30, 0, 0, time.UTC)) {
		t.Fatalf("same-day run expected, got %v", got)
	}
	now = time.Date(2025, 3, 4, 18, 30, 0, 0, time.UTC)
	if got := s.Next(now); !got.Equal(time.Date(2025, 3, 5, 18, 30, 0, 0, time.UTC)) {
		t.Fatalf("next-day run expected, got %v", got)
	}
}

func TestEveryNext(t *testing.T) {
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	if got := Every(time.Hour).Next(now); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected next %v", got)
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestJobNeverOverlaps(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)}
	s := New(applogger.NewNop(), WithClock(clk.Now))
	defer s.Stop()

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	job := &Job{Name: "slow", Schedule: Every(time.Minute), Handler: func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}}
	s.Register(job)

	clk.Add(time.Minute)
	s.tick()
	<-started
	clk.Add(time.Minute)
	s.tick()
	close(release)
	s.wg.Wait()

	st := job.Status()
	if st.Runs != 1 || st.Skipped != 1 {
		t.Fatalf("want 1 run and 1 skip, got %+v", st)
	}
	if len(started) != 0 {
		t.Fatalf("job ran concurrently with itself")
	}
}

type heldLock struct{}

func (heldLock) TryLock(context.Context, string, time.Duration) (bool, error) { return false, nil }
func (heldLock) Unlock(context.Context, string) error                        { return nil }

func TestLockHeldElsewhereSkipsRun(t *testing.T) {
	s := New(applogger.NewNop(), WithLocker(heldLock{}, "test"))
	defer s.Stop()
	called := false
	job := &Job{Name: "locked", Schedule: Every(time.Hour), Handler: func(context.Context) error {
		called = true
		return nil
	}}
	s.Register(job)
	if ok, err := s.RunNow("locked"); !ok || err != nil {
		t.Fatalf("run now: %v %v", ok, err)
	}
	s.wg.Wait()
	if called {
		t.Fatalf("handler must not run while another replica holds the lock")
	}
	if st := job.Status(); st.Skipped != 1 || st.Runs != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestRunNowRecordsErrorsAndPanics(t *testing.T) {
	s := New(applogger.NewNop())
	defer s.Stop()
	job := &Job{Name: "boom", Schedule: Every(time.Hour), Handler: func(context.Context) error { panic("bad") }}
	s.Register(job)
	if _, err := s.RunNow("boom"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	s.wg.Wait()
	if st := job.Status(); st.Runs != 1 || st.LastErr == "" {
		t.Fatalf("panic must be recorded as a failed run: %+v", st)
	}
	if _, err := s.RunNow("missing"); err != ErrUnknownJob {
		t.Fatalf("want ErrUnknownJob, got %v", err)
	}
}
