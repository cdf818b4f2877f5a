package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/taskpulse/internal/model"
)

// MaxCached bounds the local list; the oldest entries are dropped first.
const MaxCached = 50

const (
	fetchTimeout = 10 * time.Second
	saveTimeout  = 2 * time.Second
)

// Remote is the server side of the cache.  *API satisfies it.
type Remote interface {
	List(ctx context.Context, userID int64) ([]model.Notification, error)
	Delete(ctx context.Context, userID int64, id string) error
	MarkRead(ctx context.Context, userID int64, id string) error
	Stream(ctx context.Context, userID int64, onEvent func([]byte)) error
}

// Change is what subscribers receive after every state change.
type Change struct {
	Notifications []model.Notification
	Connected     bool
}

// Cache keeps one user's notifications available locally.  The durable
// copy is loaded synchronously by Open; Run then reconciles it with the
// server history and applies live events as they arrive.
//
// Local edits are optimistic: the local list changes first and is never
// rolled back when the server call fails.
type Cache struct {
	remote Remote
	store  LocalStore
	userID int64
	log    logrus.FieldLogger

	minBackoff time.Duration

	mu        sync.Mutex
	items     []model.Notification
	connected bool
	subs      map[int]func(Change)
	nextSub   int
}

// Open loads the cached list for userID from store.
func Open(ctx context.Context, remote Remote, store LocalStore, userID int64, log logrus.FieldLogger) (*Cache, error) {
	items, err := store.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if len(items) > MaxCached {
		items = items[:MaxCached]
	}
	return &Cache{
		remote:     remote,
		store:      store,
		userID:     userID,
		log:        log.WithFields(logrus.Fields{"component": "notification_cache", "user_id": userID}),
		minBackoff: minReconnect,
		items:      items,
		subs:       make(map[int]func(Change)),
	}, nil
}

// Run performs the reconciliation fetch and keeps the live stream open
// until ctx is cancelled.  It returns early only when the server no longer
// accepts the session.
func (c *Cache) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.reconcile(gctx)
		return nil
	})
	g.Go(func() error {
		return c.streamLoop(gctx)
	})
	return g.Wait()
}

// Snapshot returns a copy of the current list, newest first.
func (c *Cache) Snapshot() []model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Notification(nil), c.items...)
}

// Connected reports whether the live stream is currently open.
func (c *Cache) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe registers fn to be called after every change.  The returned
// func removes it.
func (c *Cache) Subscribe(fn func(Change)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// MarkAsRead marks one notification read locally, then on the server.
// The local change is kept even when the returned error is non-nil.
func (c *Cache) MarkAsRead(ctx context.Context, id string) error {
	c.update(func(items []model.Notification) []model.Notification {
		for i := range items {
			if items[i].ID == id {
				items[i].Read = true
			}
		}
		return items
	})
	return c.sync(c.remote.MarkRead(ctx, c.userID, id), "mark read")
}

// MarkAllAsRead marks every notification read locally, then on the server.
func (c *Cache) MarkAllAsRead(ctx context.Context) error {
	c.update(func(items []model.Notification) []model.Notification {
		for i := range items {
			items[i].Read = true
		}
		return items
	})
	return c.sync(c.remote.MarkRead(ctx, c.userID, ""), "mark all read")
}

// Remove deletes one notification locally, then on the server.
func (c *Cache) Remove(ctx context.Context, id string) error {
	c.update(func(items []model.Notification) []model.Notification {
		out := items[:0]
		for _, n := range items {
			if n.ID != id {
				out = append(out, n)
			}
		}
		return out
	})
	return c.sync(c.remote.Delete(ctx, c.userID, id), "remove")
}

// Clear empties the list locally, then on the server.
func (c *Cache) Clear(ctx context.Context) error {
	c.update(func([]model.Notification) []model.Notification {
		return []model.Notification{}
	})
	return c.sync(c.remote.Delete(ctx, c.userID, ""), "clear")
}

func (c *Cache) sync(err error, op string) error {
	if err == nil {
		return nil
	}
	c.log.WithError(err).WithFields(logrus.Fields{"op": op, "condition": "server_sync_failed"}).
		Warn("server update failed, keeping local change")
	return fmt.Errorf("%s: %w", op, err)
}

// reconcile merges the server history into the local list.
func (c *Cache) reconcile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	server, err := c.remote.List(ctx, c.userID)
	if err != nil {
		if ctx.Err() == nil {
			c.log.WithError(err).WithField("condition", "reconcile_failed").Warn("history fetch failed, using local cache")
		}
		return
	}
	c.update(func(items []model.Notification) []model.Notification {
		return merge(items, server, MaxCached)
	})
}

// streamLoop keeps the live stream open, reconnecting with a doubling
// backoff that resets once a connection has been acknowledged.  Every
// reconnect after the first is followed by a reconciliation fetch so
// events missed while down are recovered from history.
func (c *Cache) streamLoop(ctx context.Context) error {
	backoff := c.minBackoff
	for attempt := 0; ; attempt++ {
		opened := false
		err := c.remote.Stream(ctx, c.userID, func(data []byte) {
			if c.handleEvent(data) && !opened {
				opened = true
				if attempt > 0 {
					c.reconcile(ctx)
				}
			}
		})
		c.setConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			c.log.WithField("condition", "unauthenticated").Error("session rejected, stopping stream")
			return err
		}
		if opened {
			backoff = c.minBackoff
		}
		entry := c.log.WithField("retry_in", backoff.String())
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("stream disconnected")
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff)
	}
}

// handleEvent applies one stream event and reports whether it was the
// connection acknowledgement.
func (c *Cache) handleEvent(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		c.log.WithError(err).WithField("condition", "malformed").Warn("dropping stream event")
		return false
	}
	if probe.Type == model.StreamEventConnected {
		c.setConnected(true)
		return true
	}

	var n model.Notification
	if err := json.Unmarshal(data, &n); err != nil || n.ID == "" {
		c.log.WithError(err).WithField("condition", "malformed").Warn("dropping stream event")
		return false
	}
	c.update(func(items []model.Notification) []model.Notification {
		return prepend(items, n, MaxCached)
	})
	return false
}

func (c *Cache) setConnected(v bool) {
	c.mu.Lock()
	if c.connected == v {
		c.mu.Unlock()
		return
	}
	c.connected = v
	ch, subs := c.changeLocked()
	c.mu.Unlock()
	notify(subs, ch)
}

// update applies fn to the list, persists the result and notifies
// subscribers.  A failed save is logged; the in-memory list still changes.
func (c *Cache) update(fn func([]model.Notification) []model.Notification) {
	c.mu.Lock()
	c.items = fn(c.items)
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	if err := c.store.Save(ctx, c.userID, c.items); err != nil {
		c.log.WithError(err).WithField("condition", "local_save_failed").Warn("local cache not saved")
	}
	cancel()
	ch, subs := c.changeLocked()
	c.mu.Unlock()
	notify(subs, ch)
}

func (c *Cache) changeLocked() (Change, []func(Change)) {
	subs := make([]func(Change), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return Change{
		Notifications: append([]model.Notification(nil), c.items...),
		Connected:     c.connected,
	}, subs
}

func notify(subs []func(Change), ch Change) {
	for _, fn := range subs {
		fn(ch)
	}
}

// merge prepends the server records whose ids are not already cached, in
// server order.  Cached entries are left as they are, so a local read flag
// is never overwritten by an older server copy.
func merge(local, server []model.Notification, limit int) []model.Notification {
	seen := make(map[string]struct{}, len(local)+len(server))
	for _, n := range local {
		seen[n.ID] = struct{}{}
	}
	out := make([]model.Notification, 0, len(local)+len(server))
	for _, n := range server {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	out = append(out, local...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// prepend adds n at the front unless its id is already present.
func prepend(items []model.Notification, n model.Notification, limit int) []model.Notification {
	for _, have := range items {
		if have.ID == n.ID {
			return items
		}
	}
	out := make([]model.Notification, 0, len(items)+1)
	out = append(out, n)
	out = append(out, items...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
