// Package publish mirrors table traffic onto Redis for observers outside the
// process. Nothing is ever read back.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-table/internal/obslog"
	"github.com/park285/chess-table/pkg/tabledto"
)

const (
	defaultQueueSize = 256
	opTimeout        = 2 * time.Second
	drainTimeout     = 2 * time.Second
)

// RedisPublisher queues writes and performs them on its own goroutine, so
// callers never wait on Redis. A full queue drops the write.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration

	queue     chan job
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type job struct {
	kind    string
	payload []byte
}

func NewRedisPublisher(redisURL, prefix string, ttl time.Duration) (*RedisPublisher, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for publisher")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisPublisher(rdb, prefix, ttl, defaultQueueSize), nil
}

func newRedisPublisher(rdb *redis.Client, prefix string, ttl time.Duration, queueSize int) *RedisPublisher {
	if strings.TrimSpace(prefix) == "" {
		prefix = "chess-table"
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	p := &RedisPublisher{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		queue:  make(chan job, queueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *RedisPublisher) EventsChannel() string { return p.prefix + ":events" }

func (p *RedisPublisher) SnapshotKey() string { return p.prefix + ":snapshot" }

// Broadcast queues msg for the events channel.
func (p *RedisPublisher) Broadcast(msg tabledto.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		obslog.L().Warn("publish_encode_failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	p.enqueue(job{kind: msg.Type, payload: b})
}

// Snapshot queues s as the latest table state.
func (p *RedisPublisher) Snapshot(s tabledto.Snapshot) {
	b, err := json.Marshal(s)
	if err != nil {
		obslog.L().Warn("publish_encode_failed", zap.String("type", "snapshot"), zap.Error(err))
		return
	}
	p.enqueue(job{kind: "snapshot", payload: b})
}

func (p *RedisPublisher) enqueue(j job) {
	select {
	case <-p.stop:
		return
	default:
	}
	select {
	case p.queue <- j:
	default:
		obslog.L().Warn("publish_dropped", zap.String("type", j.kind), zap.Int("queue", cap(p.queue)))
	}
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for {
		select {
		case j := <-p.queue:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			p.write(ctx, j)
			cancel()
		case <-p.stop:
			p.drain()
			return
		}
	}
}

// drain writes whatever is still queued, within one shared deadline.
func (p *RedisPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case j := <-p.queue:
			if ctx.Err() != nil {
				return
			}
			p.write(ctx, j)
		default:
			return
		}
	}
}

func (p *RedisPublisher) write(ctx context.Context, j job) {
	if j.kind == "snapshot" {
		if err := p.rdb.Set(ctx, p.SnapshotKey(), j.payload, p.ttl).Err(); err != nil {
			obslog.L().Warn("publish_snapshot_failed", zap.Error(err))
		}
		return
	}
	if err := p.rdb.Publish(ctx, p.EventsChannel(), j.payload).Err(); err != nil {
		obslog.L().Warn("publish_event_failed", zap.String("type", j.kind), zap.Error(err))
	}
}

// Close stops the worker after a bounded flush of the queue and closes the
// client. Later calls return the first result.
func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		p.closeErr = p.rdb.Close()
	})
	return p.closeErr
}
