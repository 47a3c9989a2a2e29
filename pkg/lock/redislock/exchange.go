package redislock

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kallebysantos/meteoritus/pkg/lock"
)

// redisExchange implements exchange over Redis pub/sub: a release request
// for id is published on requestChannel(id), and the current holder
// answers by publishing on releaseChannel(id) once it has unlocked.
type redisExchange struct {
	client redis.UniversalClient
}

var _ exchange = (*redisExchange)(nil)

// Listen blocks until a release request for id arrives, then invokes
// callback. It returns early if ctx is done.
func (e *redisExchange) Listen(ctx context.Context, id string, callback func()) {
	sub := e.client.Subscribe(ctx, fmt.Sprintf(requestChannel, id))
	defer sub.Close()

	select {
	case <-sub.Channel():
		callback()
	case <-ctx.Done():
	}
}

// Request publishes a release request for id and waits for the current
// holder to acknowledge via releaseChannel, or for ctx to be done.
func (e *redisExchange) Request(ctx context.Context, id string) error {
	sub := e.client.Subscribe(ctx, fmt.Sprintf(releaseChannel, id))
	defer sub.Close()

	if err := e.client.Publish(ctx, fmt.Sprintf(requestChannel, id), id).Err(); err != nil {
		return err
	}

	select {
	case <-sub.Channel():
		return nil
	case <-ctx.Done():
		return lock.ErrLockTimeout
	}
}

// Release announces that the lock for id has been released.
func (e *redisExchange) Release(ctx context.Context, id string) error {
	return e.client.Publish(ctx, fmt.Sprintf(releaseChannel, id), id).Err()
}
