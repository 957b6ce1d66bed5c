package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"mcs-iot/internal/cache"
	"mcs-iot/internal/metrics"
	"mcs-iot/internal/models"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// 通道名称
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelSMS     = "sms"
)

// ConfigSource 运行期通道配置来源（config:* JSON）
type ConfigSource interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
}

// Result 一次分发的结果
type Result struct {
	Sent    []string
	Failed  []string
	Skipped []string
}

// Multi 多通道分发：每次分发重新读取配置，只发送已启用的通道，通道间并发且互不影响
type Multi struct {
	source   ConfigSource
	email    *Email
	webhook  *Webhook
	sms      *SMS
	breakers map[string]*gobreaker.CircuitBreaker
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	wg sync.WaitGroup
}

// NewMulti 创建多通道分发器
func NewMulti(source ConfigSource, email *Email, webhook *Webhook, sms *SMS, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Multi {
	d := &Multi{
		source:   source,
		email:    email,
		webhook:  webhook,
		sms:      sms,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
	for _, name := range []string{ChannelEmail, ChannelWebhook, ChannelSMS} {
		d.breakers[name] = newBreaker(name, logger)
	}
	return d
}

// newBreaker 连续失败 5 次熔断 1 分钟，之后放行 1 个探测请求
func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotConfigured)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Notification channel breaker state changed",
				zap.String("channel", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Submit 异步分发（不阻塞调用方），Wait 可等待所有未完成的分发
func (d *Multi) Submit(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.Dispatch(ctx, msg)
	}()
}

// Wait 等待未完成的分发，ctx 到期时返回 ctx.Err()
func (d *Multi) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type channelJob struct {
	name string
	send func(ctx context.Context) error
}

// Dispatch 并发发送到所有已启用通道并等待完成
func (d *Multi) Dispatch(ctx context.Context, msg Message) Result {
	jobs := d.enabledChannels(ctx, msg)

	var (
		mu     sync.Mutex
		result Result
		wg     sync.WaitGroup
	)
	for _, job := range jobs {
		wg.Add(1)
		go func(job channelJob) {
			defer wg.Done()
			err := d.run(ctx, job)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Sent = append(result.Sent, job.name)
			case errors.Is(err, ErrNotConfigured):
				result.Skipped = append(result.Skipped, job.name)
			default:
				result.Failed = append(result.Failed, job.name)
			}
		}(job)
	}
	wg.Wait()
	return result
}

// run 经熔断器执行单个通道，失败只记录日志
func (d *Multi) run(ctx context.Context, job channelJob) error {
	_, err := d.breakers[job.name].Execute(func() (interface{}, error) {
		return nil, job.send(ctx)
	})

	switch {
	case err == nil:
		d.metrics.Notification(job.name, nil)
	case errors.Is(err, ErrNotConfigured):
		d.logger.Debug("Notification channel not configured, skipping", zap.String("channel", job.name))
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		d.metrics.Notification(job.name, err)
		d.logger.Warn("Notification channel circuit open, skipping", zap.String("channel", job.name))
	default:
		d.metrics.Notification(job.name, err)
		d.logger.Error("Failed to send notification",
			zap.String("channel", job.name),
			zap.Error(err),
		)
	}
	return err
}

// enabledChannels 读取 config:email / config:webhook / config:sms，返回已启用的通道
func (d *Multi) enabledChannels(ctx context.Context, msg Message) []channelJob {
	var jobs []channelJob

	var email models.EmailConfig
	if d.load(ctx, cache.KeyEmailConfig, &email) && email.Enabled && d.email != nil {
		jobs = append(jobs, channelJob{ChannelEmail, func(ctx context.Context) error {
			return d.email.Send(ctx, email, msg)
		}})
	}

	var webhook models.WebhookConfig
	if d.load(ctx, cache.KeyWebhookConfig, &webhook) && webhook.Enabled && d.webhook != nil {
		jobs = append(jobs, channelJob{ChannelWebhook, func(ctx context.Context) error {
			return d.webhook.Send(ctx, webhook, msg)
		}})
	}

	var sms models.SMSConfig
	if d.load(ctx, cache.KeySMSConfig, &sms) && sms.Enabled && d.sms != nil {
		jobs = append(jobs, channelJob{ChannelSMS, func(ctx context.Context) error {
			return d.sms.Send(ctx, sms, msg)
		}})
	}
	return jobs
}

func (d *Multi) load(ctx context.Context, key string, dest interface{}) bool {
	found, err := d.source.GetJSON(ctx, key, dest)
	if err != nil {
		d.logger.Error("Failed to load notification config",
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	return found
}
