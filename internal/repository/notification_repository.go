package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/model"
)

// NotificationHistoryLimit caps each user's list.  Entries are write-once,
// so eviction is plain FIFO: the oldest record falls off the tail.
const NotificationHistoryLimit = 100

// maxWatchRetries bounds optimistic transaction retries for list edits.
const maxWatchRetries = 5

// ErrConcurrentUpdate is returned when a list edit kept losing the WATCH
// race against other writers to the same list.
var ErrConcurrentUpdate = errors.New("concurrent update, retry")

// NotificationRepo keeps per-user notification history as a Redis list of
// JSON documents under notifications:user:<id>, most recent first.
type NotificationRepo struct {
	rdb redis.UniversalClient
	log logrus.FieldLogger
}

// NewNotificationRepo returns a NotificationRepo bound to rdb.
func NewNotificationRepo(rdb redis.UniversalClient, log logrus.FieldLogger) *NotificationRepo {
	return &NotificationRepo{rdb: rdb, log: log.WithField("component", "notification_store")}
}

// NotificationsKey is the list key holding userID's history.
func NotificationsKey(userID int64) string {
	return "notifications:user:" + strconv.FormatInt(userID, 10)
}

// Push prepends rec and trims the list to NotificationHistoryLimit in a
// single MULTI/EXEC, so two concurrent pushes for the same user can never
// interleave between the prepend and the trim.
func (r *NotificationRepo) Push(ctx context.Context, userID int64, rec model.Notification) error {
	if rec.ID == "" {
		return errors.New("push notification: empty id")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	key := NotificationsKey(userID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, payload)
		p.LTrim(ctx, key, 0, NotificationHistoryLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push notification: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// List returns up to limit records, most recent first.  A user without
// history gets an empty, non-nil slice.  Entries that fail to decode are
// skipped and logged rather than failing the whole read.
func (r *NotificationRepo) List(ctx context.Context, userID int64, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > NotificationHistoryLimit {
		limit = NotificationHistoryLimit
	}
	entries, err := r.rdb.LRange(ctx, NotificationsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return []model.Notification{}, fmt.Errorf("list notifications: %w: %v", ErrStoreUnavailable, err)
	}
	out := make([]model.Notification, 0, len(entries))
	for _, raw := range entries {
		rec, ok := r.decode(userID, raw)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteOne removes the record with notificationID.  The list is read and
// the exact stored element removed with LREM under WATCH, so a concurrent
// push or edit aborts and retries this transaction instead of being lost.
// Unknown ids are a no-op.
func (r *NotificationRepo) DeleteOne(ctx context.Context, userID int64, notificationID string) error {
	key := NotificationsKey(userID)
	return r.edit(ctx, userID, func(entries []string) func(redis.Pipeliner) {
		for _, raw := range entries {
			rec, ok := r.decode(userID, raw)
			if !ok || rec.ID != notificationID {
				continue
			}
			return func(p redis.Pipeliner) { p.LRem(ctx, key, 1, raw) }
		}
		return nil
	})
}

// DeleteAll drops the user's whole history.
func (r *NotificationRepo) DeleteAll(ctx context.Context, userID int64) error {
	if err := r.rdb.Del(ctx, NotificationsKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear notifications: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// MarkRead sets the read flag on one record.  Already-read and unknown
// records are left alone.
func (r *NotificationRepo) MarkRead(ctx context.Context, userID int64, notificationID string) error {
	return r.markRead(ctx, userID, func(rec model.Notification) bool { return rec.ID == notificationID })
}

// MarkAllRead sets the read flag on every unread record.
func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64) error {
	return r.markRead(ctx, userID, func(model.Notification) bool { return true })
}

func (r *NotificationRepo) markRead(ctx context.Context, userID int64, match func(model.Notification) bool) error {
	key := NotificationsKey(userID)
	return r.edit(ctx, userID, func(entries []string) func(redis.Pipeliner) {
		type update struct {
			index int64
			raw   []byte
		}
		var updates []update
		for i, raw := range entries {
			rec, ok := r.decode(userID, raw)
			if !ok || rec.Read || !match(rec) {
				continue
			}
			rec.Read = true
			b, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			updates = append(updates, update{index: int64(i), raw: b})
		}
		if len(updates) == 0 {
			return nil
		}
		return func(p redis.Pipeliner) {
			for _, u := range updates {
				p.LSet(ctx, key, u.index, u.raw)
			}
		}
	})
}

// edit runs plan against a WATCHed snapshot of the list.  plan returns the
// commands to queue, or nil when nothing has to change.
func (r *NotificationRepo) edit(ctx context.Context, userID int64, plan func(entries []string) func(redis.Pipeliner)) error {
	key := NotificationsKey(userID)
	txf := func(tx *redis.Tx) error {
		entries, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		apply := plan(entries)
		if apply == nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			apply(p)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("edit notifications: %w: %v", ErrStoreUnavailable, err)
	}
	return ErrConcurrentUpdate
}

func (r *NotificationRepo) decode(userID int64, raw string) (model.Notification, bool) {
	var rec model.Notification
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.ID == "" {
		r.log.WithField("user_id", userID).WithField("condition", "malformed").Warn("skipping malformed notification")
		return model.Notification{}, false
	}
	return rec, true
}
