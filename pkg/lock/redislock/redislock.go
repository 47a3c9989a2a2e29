// Package redislock is a distributed lock.Locker backed by Redis. It lets
// multiple adapter processes behind a load balancer coordinate exclusive
// access to the same upload id: an acquire that finds the lock already held
// publishes a release request on a per-id pub/sub channel and waits for the
// current holder to answer, instead of simply failing.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/kallebysantos/meteoritus/pkg/lock"
)

// DefaultLockExpiry bounds how long a lock is held before it must be
// renewed; the background keepAlive loop extends it at half this interval.
var DefaultLockExpiry = 8 * time.Second

const (
	requestChannel = "meteoritus:lock:request:%s"
	releaseChannel = "meteoritus:lock:release:%s"
)

// mutex is the subset of redsync.Mutex this package depends on, narrowed
// to ease testing with a fake implementation.
type mutex interface {
	TryLockContext(context.Context) error
	ExtendContext(context.Context) (bool, error)
	UnlockContext(context.Context) (bool, error)
	Until() time.Time
}

// exchange coordinates release requests between instances over Redis
// pub/sub.
type exchange interface {
	Listen(ctx context.Context, id string, callback func())
	Request(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

// Locker is a distributed lock.Locker implementation backed by Redis.
type Locker struct {
	createMutex func(id string) mutex
	exchange    exchange
	logger      *slog.Logger
	expiry      time.Duration
}

var _ lock.Locker = (*Locker)(nil)

// Option configures a Locker built by New or NewFromClient.
type Option func(*Locker)

// WithLogger overrides the default stderr JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// WithLockExpiry overrides DefaultLockExpiry for this Locker's mutexes.
func WithLockExpiry(d time.Duration) Option {
	return func(l *Locker) { l.expiry = d }
}

// NewFromClient builds a Locker on top of an already-configured Redis
// client, useful when the host application manages its own connection.
func NewFromClient(client redis.UniversalClient, opts ...Option) *Locker {
	rs := redsync.New(goredis.NewPool(client))

	l := &Locker{
		exchange: &redisExchange{client: client},
		expiry:   DefaultLockExpiry,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.createMutex = func(id string) mutex {
		return rs.NewMutex(id, redsync.WithExpiry(l.expiry))
	}

	if l.logger == nil {
		h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
		l.logger = slog.New(h)
	}

	return l
}

// New connects to Redis at uri (redis://[user:pass@]host:port[/db]) and
// returns a ready to use Locker.
func New(uri string, opts ...Option) (*Locker, error) {
	options, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("redislock: parsing redis uri: %w", err)
	}

	client := redis.NewClient(options)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redislock: connecting to redis: %w", err)
	}

	return NewFromClient(client, opts...), nil
}

// NewLock implements lock.Locker.
func (l *Locker) NewLock(id string) (lock.Lock, error) {
	return &distLock{
		id:       id,
		mutex:    l.createMutex(id),
		exchange: l.exchange,
		logger:   l.logger.With("upload_id", id),
	}, nil
}

type distLock struct {
	id       string
	mutex    mutex
	exchange exchange
	logger   *slog.Logger

	bgCtx    context.Context
	bgCancel context.CancelCauseFunc
}

func (l *distLock) tryAcquire(ctx context.Context) error {
	if err := l.mutex.TryLockContext(ctx); err != nil {
		return err
	}
	l.bgCtx, l.bgCancel = context.WithCancelCause(context.Background())
	return nil
}

// Lock acquires the distributed mutex, requesting the current holder (if
// any) release it first, then starts background goroutines to keep the
// lease alive and forward release requests to requestRelease.
func (l *distLock) Lock(ctx context.Context, requestRelease func()) error {
	if err := l.tryAcquire(ctx); err != nil {
		l.logger.Debug("lock contended, requesting release")
		if reqErr := l.exchange.Request(ctx, l.id); reqErr != nil {
			return errors.Join(err, reqErr)
		}
		if err := l.tryAcquire(ctx); err != nil {
			return fmt.Errorf("redislock: %w", err)
		}
	}

	go l.exchange.Listen(l.bgCtx, l.id, requestRelease)
	go func() {
		if err := l.keepAlive(l.bgCtx); err != nil {
			l.logger.Error("keepalive failed", "error", err)
			l.bgCancel(err)
			if requestRelease != nil {
				requestRelease()
			}
		}
	}()

	return nil
}

func (l *distLock) keepAlive(ctx context.Context) error {
	for {
		select {
		case <-time.After(time.Until(l.mutex.Until()) / 2):
			if _, err := l.mutex.ExtendContext(ctx); err != nil {
				return fmt.Errorf("extending lock: %w", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Unlock releases the distributed mutex and publishes a release
// notification so any waiting instance's Request call returns.
func (l *distLock) Unlock() error {
	if l.bgCancel != nil {
		l.bgCancel(nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, unlockErr := l.mutex.UnlockContext(ctx)
	releaseErr := l.exchange.Release(ctx, l.id)

	return errors.Join(unlockErr, releaseErr)
}
