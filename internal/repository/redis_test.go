package repository

import (
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// newTestRedis starts a miniredis server and a client bound to it.  Both
// are torn down when the test ends.
func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, s
}

// newTestLogger returns a silent logger plus a hook recording its entries.
func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	log.Out = io.Discard
	return log, hook
}

// hasEntry reports whether any recorded entry carries the message and,
// when condition is non-empty, the matching condition field.
func hasEntry(hook *test.Hook, msg, condition string) bool {
	for _, e := range hook.AllEntries() {
		if e.Message != msg {
			continue
		}
		if condition == "" || e.Data["condition"] == condition {
			return true
		}
	}
	return false
}
