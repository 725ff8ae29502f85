package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/discoveryd/internal/devicereg"
	"github.com/HerbHall/discoveryd/internal/discoengine"
	"github.com/HerbHall/discoveryd/pkg/models"
)

type flakyHandler struct {
	name        string
	failures    int32
	calls       int32
}

func (h *flakyHandler) Name() string                      { return h.name }
func (h *flakyHandler) Available(ctx context.Context) bool { return true }
func (h *flakyHandler) Discover(ctx context.Context, params map[string]any) models.DiscoveryResult {
	n := atomic.AddInt32(&h.calls, 1)
	if n <= h.failures {
		return models.DiscoveryResult{Protocol: h.name, Success: false, Error: "simulated failure"}
	}
	return models.DiscoveryResult{Protocol: h.name, Success: true}
}

func waitForTerminal(t *testing.T, s *Scheduler, jobID string, timeout time.Duration) models.DiscoveryJob {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, ok := s.Job(jobID)
		if ok {
			switch job.Status {
			case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
				return job
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state within %v", jobID, timeout)
	return models.DiscoveryJob{}
}

func TestJobRetriesWithBackoffThenSucceeds(t *testing.T) {
	reg := devicereg.New()
	engine := discoengine.New(reg, nil, nil, nil)
	handler := &flakyHandler{name: "flaky", failures: 2}
	engine.RegisterHandler(handler)

	cfg := DefaultConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.BackoffFactor = 1
	s := New(engine, nil, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	job := models.NewDiscoveryJob("test", []string{"flaky"}, models.PriorityNormal)
	job.MaxRetries = 3
	job.RetryDelaySeconds = 0.01
	id := s.Submit(job)

	final := waitForTerminal(t, s, id, 2*time.Second)
	if final.Status != models.JobStatusCompleted {
		t.Fatalf("expected job to eventually complete, got status %v error %q", final.Status, final.Error)
	}
	if final.RetryCount != 2 {
		t.Fatalf("expected 2 retries before success, got %d", final.RetryCount)
	}
}

func TestJobExhaustsRetriesAndFails(t *testing.T) {
	reg := devicereg.New()
	engine := discoengine.New(reg, nil, nil, nil)
	handler := &flakyHandler{name: "alwaysfails", failures: 100}
	engine.RegisterHandler(handler)

	cfg := DefaultConfig()
	cfg.MaxConcurrentJobs = 1
	s := New(engine, nil, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	job := models.NewDiscoveryJob("test", []string{"alwaysfails"}, models.PriorityNormal)
	job.MaxRetries = 1
	job.RetryDelaySeconds = 0.01
	id := s.Submit(job)

	final := waitForTerminal(t, s, id, 2*time.Second)
	if final.Status != models.JobStatusFailed {
		t.Fatalf("expected job to fail after exhausting retries, got %v", final.Status)
	}
	if final.RetryCount != 1 {
		t.Fatalf("expected exactly 1 retry attempt, got %d", final.RetryCount)
	}
}

func TestCancelPreventsQueuedJobFromRunning(t *testing.T) {
	reg := devicereg.New()
	engine := discoengine.New(reg, nil, nil, nil)
	handler := &flakyHandler{name: "slow"}
	engine.RegisterHandler(handler)

	cfg := DefaultConfig()
	cfg.MaxConcurrentJobs = 1
	s := New(engine, nil, cfg, nil)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Don't Start the scheduler so the job stays queued.
	job := models.NewDiscoveryJob("test", []string{"slow"}, models.PriorityNormal)
	id := s.Submit(job)

	if err := s.Cancel(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := s.Job(id)
	if !ok || got.Status != models.JobStatusCancelled {
		t.Fatalf("expected job to be cancelled, got %+v ok=%v", got, ok)
	}
	s.Stop()
}

func TestStatsReflectsCompletedJob(t *testing.T) {
	reg := devicereg.New()
	engine := discoengine.New(reg, nil, nil, nil)
	engine.RegisterHandler(&flakyHandler{name: "ok"})

	cfg := DefaultConfig()
	cfg.MaxConcurrentJobs = 1
	s := New(engine, nil, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	job := models.NewDiscoveryJob("test", []string{"ok"}, models.PriorityNormal)
	id := s.Submit(job)
	waitForTerminal(t, s, id, 2*time.Second)

	stats := s.Stats()
	if stats.StatusCounts[models.JobStatusCompleted] < 1 {
		t.Fatalf("expected at least 1 completed job in stats, got %+v", stats.StatusCounts)
	}
}
