package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mcs-iot/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultRunTimeout 单次执行超时
const defaultRunTimeout = 30 * time.Minute

// Task 定时任务
type Task func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration // 间隔任务
	hour     int           // 每日定点任务
	minute   int
	daily    bool
	task     Task
}

// Scheduler 定时任务调度：间隔任务与每日定点任务，每个任务独立协程，单次执行的错误和 panic 不影响后续执行
type Scheduler struct {
	jobs       []job
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
	runTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New 创建调度器
func New(m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		runTimeout: defaultRunTimeout,
	}
}

// Every 注册间隔任务（启动时立即执行一次）
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval for task %s: %s", name, interval)
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, task: task})
	return nil
}

// DailyAt 注册每日定点任务，clock 格式 "HH:MM"（本地时间）
func (s *Scheduler) DailyAt(name, clock string, task Task) error {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return fmt.Errorf("invalid clock time for task %s: %w", name, err)
	}
	s.jobs = append(s.jobs, job{name: name, hour: t.Hour(), minute: t.Minute(), daily: true, task: task})
	return nil
}

// NextOccurrence 下一次到达 hour:minute 的时间：今天未到则今天，否则明天
func NextOccurrence(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}

// Start 启动所有任务
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		if j.daily {
			go s.runDaily(ctx, j)
		} else {
			go s.runEvery(ctx, j)
		}
	}
	s.logger.Info("Scheduler started", zap.Int("tasks", len(s.jobs)))
}

// Stop 停止等待下一次触发，已开始的执行不取消，等待其完成
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Run 立即执行一次指定任务
func (s *Scheduler) Run(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name == name {
			return s.execute(ctx, j)
		}
	}
	return fmt.Errorf("unknown task: %s", name)
}

func (s *Scheduler) runEvery(ctx context.Context, j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	s.logger.Info("Starting interval task",
		zap.String("task", j.name),
		zap.Duration("interval", j.interval),
	)

	// 首次立即执行
	s.execute(ctx, j)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, j job) {
	defer s.wg.Done()

	for {
		now := s.now()
		next := NextOccurrence(now, j.hour, j.minute)
		wait := next.Sub(now)

		s.logger.Info("Daily task scheduled",
			zap.String("task", j.name),
			zap.Time("next_run", next),
			zap.Duration("wait_duration", wait),
		)

		// 每次重新计算到下一个时刻的等待时间，不累积漂移
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, j)
		}
	}
}

// execute 执行一次任务，捕获 panic。
// 任务使用脱离调度器取消的 ctx，停止时不会中断写到一半的执行
func (s *Scheduler) execute(ctx context.Context, j job) (err error) {
	runID := uuid.NewString()
	start := time.Now()
	logger := s.logger.With(zap.String("task", j.name), zap.String("run_id", runID))

	defer func() {
		result := metrics.ResultSuccess
		if r := recover(); r != nil {
			result = metrics.ResultPanic
			err = fmt.Errorf("task %s panicked: %v", j.name, r)
			logger.Error("Scheduled task panicked", zap.Any("panic", r))
		} else if err != nil {
			result = metrics.ResultError
			logger.Error("Scheduled task failed", zap.Error(err))
		} else {
			logger.Debug("Scheduled task completed", zap.Duration("duration", time.Since(start)))
		}
		s.metrics.SchedulerRun(j.name, result, time.Since(start))
	}()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
	defer cancel()
	return j.task(runCtx)
}
