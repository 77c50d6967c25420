package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"StockSense/pkg/logger"
)

var ErrNotRunning = errors.New("queue not running")

// RedisQueue is a job queue on Redis lists. A worker moves a message from
// pending to processing with BLMOVE and removes it once handled, so a crash
// mid-job leaves it in processing instead of losing it. Failed messages wait
// in a sorted set until their retry time, then go back to pending.
//
// Keys under the prefix: pending, processing (lists), retry (zset), dead (list).
type RedisQueue struct {
	logger    *logger.Logger
	config    *QueueConfig
	client    *redis.Client
	keyPrefix string

	mu        sync.RWMutex
	jobs      map[string]Job
	isRunning bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if lgr == nil {
		lgr = logger.Nop()
	}

	rq := &RedisQueue{
		logger:    lgr,
		config:    config,
		client:    client,
		jobs:      make(map[string]Job),
		keyPrefix: "stocksense:queue",
	}

	for _, opt := range opts {
		opt(rq)
	}

	return rq
}

// RegisterJob registers the handler for job.Type(). Later registrations of
// the same type are ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start pings Redis and launches the workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if r.config.RecoverOnStart {
		n, err := r.recoverProcessing(ctx)
		if err != nil {
			return fmt.Errorf("recover processing: %w", err)
		}
		if n > 0 {
			r.logger.Warn("requeued unfinished jobs", logger.Int("count", n))
		}
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryProcessor()

	r.isRunning = true
	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("prefix", r.keyPrefix))
	return nil
}

// Stop cancels in-flight jobs and waits for the workers within ctx. A job
// cancelled this way stays in processing.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue stores payload as a new message and returns its id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	r.mu.RLock()
	running := r.isRunning
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return "", ErrNotRunning
	}
	if !known {
		return "", fmt.Errorf("no job registered for type: %s", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("pending"), data).Err(); err != nil {
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

// Stats reads the list sizes in one round trip.
func (r *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	pending := pipe.LLen(ctx, r.key("pending"))
	processing := pipe.LLen(ctx, r.key("processing"))
	retrying := pipe.ZCard(ctx, r.key("retry"))
	dead := pipe.LLen(ctx, r.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, err
	}
	return Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Retrying:   retrying.Val(),
		Dead:       dead.Val(),
	}, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()

	for r.ctx.Err() == nil {
		raw, err := r.client.BLMove(r.ctx, r.key("pending"), r.key("processing"), "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || r.ctx.Err() != nil {
				continue
			}
			r.logger.Error("blmove", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-r.ctx.Done():
			}
			continue
		}
		r.process(raw)
	}
}

func (r *RedisQueue) process(raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.logger.Error("drop undecodable message", logger.Error(err))
		r.finish(raw, func(p redis.Pipeliner) { p.LPush(context.Background(), r.key("dead"), raw) })
		return
	}

	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.logger.Error("no job for message type",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		r.finish(raw, func(p redis.Pipeliner) { p.LPush(context.Background(), r.key("dead"), raw) })
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, msg.Payload)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		r.finish(raw, nil)
		r.logger.Debug("job done",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", elapsed))
	case r.ctx.Err() != nil:
		// stopping; left in processing for recovery
		r.logger.Warn("job interrupted",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
	default:
		r.fail(raw, msg, job, err)
	}
}

func (r *RedisQueue) fail(raw string, msg Message, job Job, err error) {
	msg.Attempts++
	r.logger.Error("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err))

	next, merr := json.Marshal(msg)
	if merr != nil {
		r.logger.Error("marshal failed message", logger.Error(merr))
		return
	}
	if msg.Attempts > r.config.RetryLimit {
		r.logger.Warn("job moved to dead list", logger.String("id", msg.ID))
		r.finish(raw, func(p redis.Pipeliner) { p.LPush(context.Background(), r.key("dead"), next) })
		return
	}
	at := time.Now().Add(r.config.RetryDelay)
	r.finish(raw, func(p redis.Pipeliner) {
		p.ZAdd(context.Background(), r.key("retry"), redis.Z{Score: float64(at.Unix()), Member: next})
	})
}

// finish removes raw from processing, together with then, in one transaction.
func (r *RedisQueue) finish(raw string, then func(redis.Pipeliner)) {
	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.LRem(ctx, r.key("processing"), 1, raw)
	if then != nil {
		then(pipe)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("finish message", logger.Error(err))
	}
}

func (r *RedisQueue) retryProcessor() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.promoteDue()
		}
	}
}

// promoteDue moves retries whose time has come back to pending.
func (r *RedisQueue) promoteDue() {
	due, err := r.client.ZRangeByScore(r.ctx, r.key("retry"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if r.ctx.Err() == nil {
			r.logger.Error("fetch retry messages", logger.Error(err))
		}
		return
	}

	for _, member := range due {
		// ZREM decides which process owns the member when several poll at once
		removed, err := r.client.ZRem(r.ctx, r.key("retry"), member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := r.client.LPush(r.ctx, r.key("pending"), member).Err(); err != nil {
			r.logger.Error("requeue retry", logger.Error(err))
		}
	}
}

func (r *RedisQueue) recoverProcessing(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.LMove(ctx, r.key("processing"), r.key("pending"), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (r *RedisQueue) key(name string) string {
	return r.keyPrefix + ":" + name
}
