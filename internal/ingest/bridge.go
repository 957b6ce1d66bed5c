package ingest

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"mcs-iot/internal/cache"
	"mcs-iot/internal/metrics"

	"go.uber.org/zap"
)

// messageTimeout 单条消息处理超时
const messageTimeout = 30 * time.Second

type inbound struct {
	topic    string
	payload  []byte
	received time.Time
}

// Bridge MQTT 回调与处理协程之间的桥接：回调只做入队，按 sn 分片保证同一设备按到达顺序处理
type Bridge struct {
	router  *Router
	cache   *cache.Store
	queues  []chan inbound
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewBridge 创建桥接
func NewBridge(router *Router, store *cache.Store, shards, queueSize int, m *metrics.Metrics, logger *zap.Logger) *Bridge {
	if shards <= 0 {
		shards = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	queues := make([]chan inbound, shards)
	for i := range queues {
		queues[i] = make(chan inbound, queueSize)
	}
	return &Bridge{
		router:  router,
		cache:   store,
		queues:  queues,
		metrics: m,
		logger:  logger,
	}
}

// shard 按 sn 计算分片
func (b *Bridge) shard(topic string) int {
	key := topic
	if sn, _, ok := SplitTopic(topic); ok {
		key = sn
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(b.queues)))
}

// Handle MQTT 消息回调：非阻塞入队，队列满时丢弃
func (b *Bridge) Handle(topic string, payload []byte) error {
	msg := inbound{
		topic:    topic,
		payload:  append([]byte(nil), payload...),
		received: time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.metrics.MessageDropped("stopped")
		return nil
	}

	select {
	case b.queues[b.shard(topic)] <- msg:
		b.metrics.SetQueueDepth(b.depthLocked())
	default:
		b.metrics.MessageDropped("queue_full")
		b.logger.Warn("Dispatch queue full, message dropped", zap.String("topic", topic))
	}
	return nil
}

// Start 启动处理协程
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	for i, q := range b.queues {
		b.wg.Add(1)
		go b.worker(i, q)
	}
	b.logger.Info("Ingest bridge started", zap.Int("shards", len(b.queues)))
}

// Stop 停止接收新消息，等待队列中已有的消息处理完毕
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("Ingest bridge drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingest bridge drain interrupted: %w", ctx.Err())
	}
}

func (b *Bridge) worker(id int, q <-chan inbound) {
	defer b.wg.Done()
	for msg := range q {
		b.process(id, msg)
	}
}

// process 处理单条消息，panic 不影响后续消息
func (b *Bridge) process(id int, msg inbound) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic while processing message",
				zap.Int("shard", id),
				zap.String("topic", msg.topic),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	if err := b.cache.TouchLastMessage(ctx, msg.received); err != nil {
		b.logger.Warn("Failed to record last message time", zap.Error(err))
	}
	b.router.Route(ctx, msg.topic, msg.payload)
	b.metrics.SetQueueDepth(b.Depth())
}

// Depth 队列中待处理的消息数
func (b *Bridge) Depth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depthLocked()
}

func (b *Bridge) depthLocked() int {
	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}
