// internal/supervisor/supervisor.go
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a long-lived background job. It must set liveness once initialized,
// touch the target periodically and return when ctx is cancelled.
type Task interface {
	Name() string
	Run(ctx context.Context, target *Target) error
}

// Config controls how often a task is checked
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	Staleness    time.Duration
}

// DefaultConfig returns a 1s initial delay, 5s checks and a 10s staleness limit
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		Interval:     5 * time.Second,
		Staleness:    10 * time.Second,
	}
}

// Supervisor restarts a task that reports itself unhealthy or stops touching its target
type Supervisor struct {
	task   Task
	cfg    Config
	target *Target
	logger *zap.Logger

	mu         sync.Mutex
	cancelTask context.CancelFunc
	taskDone   chan struct{}
	stop       context.CancelFunc
	monitor    sync.WaitGroup

	restarts    atomic.Int64
	lastRestart atomic.Int64
}

// New creates a stopped supervisor for task
func New(task Task, cfg Config, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		task:   task,
		cfg:    cfg,
		target: &Target{},
		logger: logger.With(zap.String("component", "supervisor"), zap.String("task", task.Name())),
	}
}

// Start launches the task and the health monitor
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}
	ctx, s.stop = context.WithCancel(ctx)

	s.target.Touch()
	s.startTaskLocked(ctx)

	s.monitor.Add(1)
	go s.watch(ctx)

	s.logger.Info("Supervisor started",
		zap.Duration("initial_delay", s.cfg.InitialDelay),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("staleness", s.cfg.Staleness),
	)
}

// Stop cancels the monitor and the task and waits for both
func (s *Supervisor) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	s.monitor.Wait()

	s.mu.Lock()
	s.stopTaskLocked()
	s.mu.Unlock()

	s.logger.Info("Supervisor stopped", zap.Int64("restarts", s.restarts.Load()))
}

// Target exposes the task health state
func (s *Supervisor) Target() *Target {
	return s.target
}

// Restarts returns how many times the task was restarted
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

// LastRestart returns the time of the last restart, zero if none
func (s *Supervisor) LastRestart() time.Time {
	ns := s.lastRestart.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Supervisor) watch(ctx context.Context) {
	defer s.monitor.Done()

	if !sleep(ctx, s.cfg.InitialDelay) {
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.check(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) check(ctx context.Context) {
	idle := time.Since(s.target.LastActivity())
	if s.target.Live() && idle <= s.cfg.Staleness {
		return
	}

	s.logger.Warn("Task unhealthy or unresponsive, restarting",
		zap.Bool("live", s.target.Live()),
		zap.Duration("idle", idle),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	s.stopTaskLocked()
	s.target.reset()
	s.startTaskLocked(ctx)

	s.restarts.Add(1)
	s.lastRestart.Store(time.Now().UnixNano())
}

func (s *Supervisor) startTaskLocked(ctx context.Context) {
	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancelTask, s.taskDone = cancel, done

	s.target.running.Store(true)
	go func() {
		defer close(done)
		defer s.target.running.Store(false)

		if err := s.task.Run(taskCtx, s.target); err != nil && taskCtx.Err() == nil {
			s.logger.Error("Task exited", zap.Error(err))
		}
		// A task that returns on its own is restarted on the next check.
		s.target.SetLive(false)
	}()
}

func (s *Supervisor) stopTaskLocked() {
	if s.cancelTask == nil {
		return
	}
	s.cancelTask()
	<-s.taskDone
	s.cancelTask, s.taskDone = nil, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
