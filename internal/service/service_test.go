package service

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/iliyamo/taskpulse/internal/model"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, s
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	log.Out = io.Discard
	return log, hook
}

// countingStore records pushes and optionally fails them.
type countingStore struct {
	pushes atomic.Int32
	err    error
}

func (s *countingStore) Push(context.Context, int64, model.Notification) error {
	s.pushes.Add(1)
	return s.err
}

// countingBroker records publishes without a Redis server.
type countingBroker struct {
	publishes atomic.Int32
	err       error
}

func (b *countingBroker) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	b.publishes.Add(1)
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if b.err != nil {
		cmd.SetErr(b.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

var errBoom = errors.New("boom")
