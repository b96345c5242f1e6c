// Package queue carries attendance events from the API to the notification
// worker.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Message is one unit of work. Type selects the handler; Body is its JSON payload.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a bounded channel-backed queue for single-process deployments
// and tests.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message, blocking while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers. When ctx ends the messages already
// buffered are still handed over before the channel is closed, so consumers
// must read until close.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				out <- msg
			case <-ctx.Done():
				q.drain(out)
				return
			}
		}
	}()
	return out, nil
}

func (q *InMemory) drain(out chan<- Message) {
	for {
		select {
		case msg := <-q.ch:
			out <- msg
		default:
			return
		}
	}
}

// Len reports how many messages are waiting.
func (q *InMemory) Len() int {
	return len(q.ch)
}

// RedisQueue implements a Redis list-backed queue shared by API and worker
// processes.
type RedisQueue struct {
	client redis.Cmdable
	key    string
	poll   time.Duration
	log    logrus.FieldLogger
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client redis.Cmdable, key string, log logrus.FieldLogger) *RedisQueue {
	if key == "" {
		key = "attendance:edges"
	}
	return &RedisQueue{client: client, key: key, poll: 5 * time.Second, log: log}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode queue message")
	}
	return errors.Wrap(q.client.LPush(ctx, q.key, raw).Err(), "lpush")
}

// Consume streams messages using BRPOP. Undecodable entries are logged and
// dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				q.log.WithField("key", q.key).Warn("brpop failed: " + err.Error())
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				q.log.WithField("key", q.key).Error("drop undecodable message: " + err.Error())
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Len reports the number of waiting messages.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
