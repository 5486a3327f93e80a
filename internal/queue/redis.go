package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-import/internal/resilience"
)

// RedisConfig holds the queue transport settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`

	PendingList    string `yaml:"pending_list" mapstructure:"pending_list"`
	ProcessingList string `yaml:"processing_list" mapstructure:"processing_list"`
	FailedList     string `yaml:"failed_list" mapstructure:"failed_list"`

	// MaxAttempts bounds deliveries per message. Default: 5.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// DeliveriesPerSecond throttles the delivery loop. Default: 10.
	DeliveriesPerSecond float64 `yaml:"deliveries_per_second" mapstructure:"deliveries_per_second"`
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.PendingList == "" {
		c.PendingList = "import:pending"
	}
	if c.ProcessingList == "" {
		c.ProcessingList = "import:processing"
	}
	if c.FailedList == "" {
		c.FailedList = "import:failed"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.DeliveriesPerSecond <= 0 {
		c.DeliveriesPerSecond = 10
	}
	return c
}

// Deliverer hands one message to its consumer. A nil return acknowledges
// the message; a transient error re-enqueues it (up to MaxAttempts); any
// other error drops it to the failed list.
type Deliverer interface {
	Deliver(ctx context.Context, m Message) error
}

// RedisQueue is a Redis-list message queue with at-least-once delivery.
// Publish pushes to the pending list; Run moves messages through a
// processing list so a crashed delivery can be recovered.
type RedisQueue struct {
	client  *redis.Client
	cfg     RedisConfig
	limiter *rate.Limiter

	// OnExhausted is called when a message used up its delivery budget.
	// The serve command wires it to fail the job.
	OnExhausted func(ctx context.Context, m Message)
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrapf(err, "queue: ping redis at %s", cfg.Addr)
	}
	return &RedisQueue{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.DeliveriesPerSecond), 1),
	}, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Publish(ctx context.Context, m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.cfg.PendingList, data).Err(); err != nil {
		return eris.Wrapf(err, "queue: push %s message for job %s", m.Kind, m.JobID)
	}
	return nil
}

// Run consumes the pending list until ctx is cancelled, delivering each
// message through d.
func (q *RedisQueue) Run(ctx context.Context, d Deliverer) error {
	log := zap.L().With(zap.String("component", "queue"))
	log.Info("delivery loop started",
		zap.String("pending", q.cfg.PendingList),
		zap.Int("max_attempts", q.cfg.MaxAttempts))

	for {
		if err := q.limiter.Wait(ctx); err != nil {
			return nil
		}

		// Atomic pop from pending and push to processing: a crash here
		// leaves the message recoverable from the processing list.
		raw, err := q.client.BRPopLPush(ctx, q.cfg.PendingList, q.cfg.ProcessingList, 5*time.Second).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				log.Info("delivery loop stopped")
				return nil
			}
			log.Error("pop failed", zap.Error(err))
			continue
		}

		q.handle(ctx, d, raw, log)
	}
}

func (q *RedisQueue) handle(ctx context.Context, d Deliverer, raw string, log *zap.Logger) {
	// The message leaves the processing list on every outcome; retry and
	// failure paths re-enqueue explicitly.
	defer q.client.LRem(context.WithoutCancel(ctx), q.cfg.ProcessingList, 1, raw)

	m, err := DecodeMessage([]byte(raw))
	if err != nil {
		log.Error("dropping malformed message", zap.Error(err))
		q.client.LPush(ctx, q.cfg.FailedList, raw)
		return
	}

	err = d.Deliver(ctx, m)
	if err == nil {
		return
	}

	mlog := log.With(zap.String("kind", string(m.Kind)), zap.String("job_id", m.JobID))
	if !resilience.IsTransient(err) {
		mlog.Error("dropping undeliverable message", zap.Error(err))
		q.client.LPush(ctx, q.cfg.FailedList, raw)
		if q.OnExhausted != nil {
			q.OnExhausted(ctx, m)
		}
		return
	}

	m.Attempt++
	if m.Attempt >= q.cfg.MaxAttempts {
		mlog.Error("delivery budget exhausted", zap.Int("attempts", m.Attempt), zap.Error(err))
		q.client.LPush(ctx, q.cfg.FailedList, raw)
		if q.OnExhausted != nil {
			q.OnExhausted(ctx, m)
		}
		return
	}

	mlog.Warn("delivery failed, re-enqueueing", zap.Int("attempt", m.Attempt), zap.Error(err))
	data, encErr := m.Encode()
	if encErr != nil {
		mlog.Error("re-encode failed", zap.Error(encErr))
		q.client.LPush(ctx, q.cfg.FailedList, raw)
		return
	}
	q.client.LPush(ctx, q.cfg.PendingList, data)
}
