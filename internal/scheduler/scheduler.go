package scheduler

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/internal/discoengine"
	"github.com/HerbHall/discoveryd/internal/discometrics"
	"github.com/HerbHall/discoveryd/pkg/discoerr"
	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
)

// Config tunes the Scheduler's concurrency, retry and periodic-discovery
// behavior.
type Config struct {
	MaxConcurrentJobs int
	DefaultTimeout    time.Duration
	BackoffFactor     float64
	MaxBackoffSeconds float64

	PeriodicEnabled   bool
	PeriodicInterval  time.Duration
	PeriodicProtocols []string
}

// DefaultConfig mirrors the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 5,
		DefaultTimeout:    30 * time.Second,
		BackoffFactor:     2.0,
		MaxBackoffSeconds: 300,
		PeriodicInterval:  5 * time.Minute,
	}
}

// Stats is a point-in-time snapshot of the Scheduler's health.
type Stats struct {
	Running             int
	Uptime              time.Duration
	StatusCounts        map[models.JobStatus]int
	QueueSize           int
	TotalDiscoveryTime  time.Duration
	AverageDiscoveryTime time.Duration
	Config              Config
}

// Scheduler owns job submission, ordering, dispatch and retry.
type Scheduler struct {
	engine *discoengine.Engine
	bus    plugin.EventBus
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   jobHeap
	jobs    map[string]*models.DiscoveryJob
	running map[string]context.CancelFunc
	stopped bool

	startTime          time.Time
	totalDiscoveryTime time.Duration
	completedCount     int

	wg sync.WaitGroup
}

// New creates a Scheduler bound to engine, publishing discovery lifecycle
// events on bus (which may be nil, e.g. in isolated unit tests). Start must
// be called to begin dispatching.
func New(engine *discoengine.Engine, bus plugin.EventBus, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		engine:  engine,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.Named("scheduler"),
		jobs:    make(map[string]*models.DiscoveryJob),
		running: make(map[string]context.CancelFunc),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// publish sends evt on the bus if one was configured.
func (s *Scheduler) publish(ctx context.Context, evt models.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, evt)
}

// Submit enqueues job and returns its job_id.
func (s *Scheduler) Submit(job *models.DiscoveryJob) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Status = models.JobStatusPending
	s.jobs[job.JobID] = job
	heap.Push(&s.queue, job)
	discometrics.QueueDepth.Set(float64(len(s.queue)))
	s.cond.Signal()
	return job.JobID
}

// Cancel marks jobID cancelled if it is still pending or scheduled. Per
// spec.md §4.8, a running job is not forcibly interrupted — it is left to
// complete or time out on its own.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return discoerr.ErrDeviceNotFound
	}
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusScheduled {
		return nil
	}
	job.Status = models.JobStatusCancelled
	return nil
}

// Start launches cfg.MaxConcurrentJobs worker goroutines plus, when
// enabled, a periodic re-discovery ticker. Start returns immediately;
// Stop blocks until all workers have drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.startTime = time.Now()
	n := s.cfg.MaxConcurrentJobs
	if n <= 0 {
		n = 1
	}
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	if s.cfg.PeriodicEnabled && s.cfg.PeriodicInterval > 0 {
		s.wg.Add(1)
		go s.periodicLoop(ctx)
	}
}

// Stop signals every worker to exit, cancels the context of every running
// job, wakes any blocked worker, and waits for them to return. Jobs still
// queued or running are marked cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning || job.Status == models.JobStatusScheduled {
			job.Status = models.JobStatusCancelled
		}
	}
	for _, cancel := range s.running {
		cancel()
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		job, ok := s.nextDueJob()
		if !ok {
			return
		}
		s.runJob(ctx, job)
	}
}

// nextDueJob blocks until a job is ready to run, the scheduler stops, or
// the only queued work is scheduled in the future (in which case it polls
// at a short interval rather than busy-spinning).
func (s *Scheduler) nextDueJob() (*models.DiscoveryJob, bool) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped && len(s.queue) == 0 {
			s.mu.Unlock()
			return nil, false
		}
		if s.stopped {
			s.mu.Unlock()
			return nil, false
		}

		top := s.queue[0]
		if top.Status == models.JobStatusCancelled {
			heap.Pop(&s.queue)
			s.mu.Unlock()
			continue
		}
		if top.ScheduledAt.After(time.Now()) {
			s.mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			continue
		}

		job := heap.Pop(&s.queue).(*models.DiscoveryJob)
		discometrics.QueueDepth.Set(float64(len(s.queue)))
		s.mu.Unlock()
		return job, true
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *models.DiscoveryJob) {
	s.mu.Lock()
	job.Status = models.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	jobCtx, cancel := context.WithCancel(ctx)
	if job.TimeoutSeconds > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds*float64(time.Second)))
	}
	s.running[job.JobID] = cancel
	s.mu.Unlock()

	s.publish(ctx, models.NewEvent(models.EventDiscoveryStarted, "scheduler", models.PriorityNormal,
		models.DiscoveryStartedPayload{Protocols: job.Protocols, Params: job.Params}))

	start := time.Now()
	result := s.engine.DiscoverAll(jobCtx, job.Protocols, job.Params)
	cancel()
	elapsed := time.Since(start)

	s.mu.Lock()
	delete(s.running, job.JobID)
	s.mu.Unlock()

	failed := jobCtx.Err() != nil || result.ProtocolsTotal > 0 && result.ProtocolsSucceeded == 0

	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Status == models.JobStatusCancelled {
		return
	}

	if failed && job.RetryCount < job.MaxRetries {
		job.RetryCount++
		delay := job.RetryDelaySeconds * math.Pow(s.cfg.BackoffFactor, float64(job.RetryCount))
		if s.cfg.MaxBackoffSeconds > 0 && delay > s.cfg.MaxBackoffSeconds {
			delay = s.cfg.MaxBackoffSeconds
		}
		job.Status = models.JobStatusScheduled
		job.ScheduledAt = time.Now().Add(time.Duration(delay * float64(time.Second)))
		heap.Push(&s.queue, job)
		discometrics.QueueDepth.Set(float64(len(s.queue)))
		discometrics.JobRetriesTotal.Inc()
		s.cond.Signal()
		s.publish(ctx, models.NewEvent(models.EventDiscoveryError, "scheduler", models.PriorityNormal,
			models.DiscoveryErrorPayload{Message: "discovery failed, retrying", Protocol: "scheduler", Recoverable: true}))
		return
	}

	completedAt := time.Now()
	job.CompletedAt = &completedAt
	agg := models.DiscoveryResult{
		Protocol: "scheduler",
		Success:  !failed,
	}
	for _, devices := range result.PerProtocol {
		agg.Devices = append(agg.Devices, devices.Devices...)
	}
	job.Result = &agg

	if failed {
		job.Status = models.JobStatusFailed
		if jobCtx.Err() != nil {
			job.Error = jobCtx.Err().Error()
		} else {
			job.Error = "all protocols failed"
		}
		s.publish(ctx, models.NewEvent(models.EventDiscoveryError, "scheduler", models.PriorityHigh,
			models.DiscoveryErrorPayload{Message: job.Error, Protocol: "scheduler", Recoverable: false}))
	} else {
		job.Status = models.JobStatusCompleted
		s.publish(ctx, models.NewEvent(models.EventDiscoveryCompleted, "scheduler", models.PriorityNormal,
			models.DiscoveryCompletedPayload{Result: &agg, Duration: elapsed, DevicesFound: len(agg.Devices)}))
	}

	s.completedCount++
	s.totalDiscoveryTime += elapsed

	discometrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	discometrics.JobDuration.Observe(elapsed.Seconds())
}

func (s *Scheduler) periodicLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PeriodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			stopped := s.stopped
			pileUp := s.hasPendingPeriodicLocked()
			s.mu.Unlock()
			if stopped {
				return
			}
			if pileUp {
				s.logger.Debug("skipping periodic discovery tick, previous run still pending")
				continue
			}
			job := models.NewDiscoveryJob("periodic_discovery", s.cfg.PeriodicProtocols, models.PriorityNormal)
			s.Submit(job)
		}
	}
}

// hasPendingPeriodicLocked reports whether a periodic_discovery job is
// still pending/scheduled/running. Caller must hold s.mu.
func (s *Scheduler) hasPendingPeriodicLocked() bool {
	for _, job := range s.jobs {
		if job.Name != "periodic_discovery" {
			continue
		}
		switch job.Status {
		case models.JobStatusPending, models.JobStatusScheduled, models.JobStatusRunning:
			return true
		}
	}
	return false
}

// Stats returns a snapshot of scheduler health. StatusCounts reflects each
// tracked job's current status at the time of the call, computed fresh so
// it can never drift from the authoritative per-job status in s.jobs.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg time.Duration
	if s.completedCount > 0 {
		avg = s.totalDiscoveryTime / time.Duration(s.completedCount)
	}
	counts := make(map[models.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}

	return Stats{
		Running:              len(s.running),
		Uptime:               time.Since(s.startTime),
		StatusCounts:         counts,
		QueueSize:            len(s.queue),
		TotalDiscoveryTime:   s.totalDiscoveryTime,
		AverageDiscoveryTime: avg,
		Config:               s.cfg,
	}
}

// Job returns a copy of the tracked job with jobID, if known.
func (s *Scheduler) Job(jobID string) (models.DiscoveryJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return models.DiscoveryJob{}, false
	}
	return *job, true
}
