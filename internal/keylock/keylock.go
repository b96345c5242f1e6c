// Package keylock serializes work per string key, either inside one process or
// across API instances through Redis.
package keylock

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrNotObtained is returned when the lock could not be taken before the
// context ended or the retry budget ran out.
var ErrNotObtained = errors.New("lock not obtained")

// Locker hands out exclusive locks by key. The returned unlock must be called
// exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Local is an in-process Locker. Entries are reference counted so the map only
// holds keys that are currently locked or waited on.
type Local struct {
	mu   sync.Mutex
	keys map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{keys: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, errors.Wrap(ErrNotObtained, ctx.Err().Error())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// held reports how many keys are tracked; tests use it to check cleanup.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Redis is a Locker backed by bsm/redislock. The TTL bounds how long a crashed
// holder can block a key.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	log    logrus.FieldLogger
}

func NewRedis(rdb redis.Cmdable, ttl time.Duration, log logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	const step = 20 * time.Millisecond
	return &Redis{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(step), int(ttl/step)),
		log:    log,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := r.client.Obtain(ctx, "lock:"+key, r.ttl, &redislock.Options{RetryStrategy: r.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, errors.Wrap(ErrNotObtained, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "obtain lock %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released on a fresh context so a cancelled request still frees the key.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.log.WithField("key", key).Warn("failed to release redis lock: " + err.Error())
			}
		})
	}, nil
}
