package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/taskpulse/internal/model"
	"github.com/iliyamo/taskpulse/internal/utils"
)

// DefaultSessionTTL is the sliding lifetime of a session.
const DefaultSessionTTL = 7 * 24 * time.Hour

const (
	sessionKeyPrefix      = "session:"
	userSessionsKeyPrefix = "sessions:user:"
)

// SessionRepo maps opaque session tokens to identities in Redis.
//
// Layout:
//
//	session:<token>       -> {"id": <userId>, "role": "user"|"admin"}, TTL
//	sessions:user:<id>    -> set of live tokens, used by RevokeAllForUser
//
// Issue and Refresh both slide the index TTL and re-add the token, so the
// index outlives every session it names.  Tokens whose session key is gone
// are pruned from the index at the next Issue for that user.
type SessionRepo struct {
	rdb redis.UniversalClient
	ttl time.Duration
	log logrus.FieldLogger
}

// NewSessionRepo returns a SessionRepo. A non-positive ttl falls back to
// DefaultSessionTTL.
func NewSessionRepo(rdb redis.UniversalClient, ttl time.Duration, log logrus.FieldLogger) *SessionRepo {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionRepo{rdb: rdb, ttl: ttl, log: log.WithField("component", "session")}
}

// TTL returns the session lifetime, used for the cookie expiry.
func (r *SessionRepo) TTL() time.Duration { return r.ttl }

func sessionKey(token string) string { return sessionKeyPrefix + token }

func userSessionsKey(userID int64) string {
	return userSessionsKeyPrefix + strconv.FormatInt(userID, 10)
}

// Issue creates a session for id and returns its token.  Any failure
// talking to Redis is returned: a login that silently produced an unusable
// session would be worse than a visible error.
func (r *SessionRepo) Issue(ctx context.Context, id model.Identity) (string, error) {
	if id.UserID <= 0 || !id.Role.Valid() {
		return "", fmt.Errorf("issue session: invalid identity %+v", id)
	}
	token, err := utils.NewSessionToken()
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	payload, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionKey(token), payload, r.ttl)
		p.SAdd(ctx, userSessionsKey(id.UserID), token)
		p.Expire(ctx, userSessionsKey(id.UserID), r.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("issue session: %w: %v", ErrStoreUnavailable, err)
	}
	if err := r.pruneIndex(ctx, id.UserID); err != nil {
		r.log.WithError(err).WithField("user_id", id.UserID).Warn("session index prune failed")
	}
	return token, nil
}

// pruneIndex drops index members whose session key no longer exists.
func (r *SessionRepo) pruneIndex(ctx context.Context, userID int64) error {
	idx := userSessionsKey(userID)
	tokens, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil || len(tokens) == 0 {
		return err
	}
	exists := make([]*redis.IntCmd, len(tokens))
	if _, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, t := range tokens {
			exists[i] = p.Exists(ctx, sessionKey(t))
		}
		return nil
	}); err != nil {
		return err
	}
	var stale []interface{}
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, tokens[i])
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return r.rdb.SRem(ctx, idx, stale...).Err()
}

// Resolve looks the token up.  It never extends the TTL and never returns
// an error: every failure reads as "not authenticated".  The three failure
// causes are logged differently because they mean different things to an
// operator.
func (r *SessionRepo) Resolve(ctx context.Context, token string) (model.Identity, bool) {
	if token == "" {
		return model.Identity{}, false
	}
	raw, err := r.rdb.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.log.Debug("session not found")
		return model.Identity{}, false
	}
	if err != nil {
		r.log.WithError(err).WithField("condition", "store_unavailable").Error("session lookup failed")
		return model.Identity{}, false
	}

	id, ok := decodeIdentity(raw)
	if !ok {
		r.log.WithField("condition", "malformed").Warn("malformed session")
		return model.Identity{}, false
	}
	return id, true
}

func decodeIdentity(raw []byte) (model.Identity, bool) {
	var id model.Identity
	if err := json.Unmarshal(raw, &id); err != nil || id.UserID <= 0 || !id.Role.Valid() {
		return model.Identity{}, false
	}
	return id, true
}

// Refresh renews the TTL of an existing session.  The identity is left as
// is, so the token keeps resolving to exactly what it was issued with.
// Missing or malformed sessions are not recreated.  The user's index is
// slid with the session and the token re-added to it, so RevokeAllForUser
// still finds a session kept alive past its first TTL.
func (r *SessionRepo) Refresh(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	raw, err := r.rdb.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("refresh session: %w: %v", ErrStoreUnavailable, err)
	}
	id, ok := decodeIdentity(raw)
	if !ok {
		return nil
	}

	idx := userSessionsKey(id.UserID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Expire(ctx, sessionKey(token), r.ttl)
		p.SAdd(ctx, idx, token)
		p.Expire(ctx, idx, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh session: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Revoke deletes the session.  Revoking an unknown token is not an error.
// When the session no longer decodes the index entry is left for the next
// prune.
func (r *SessionRepo) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	id, ok := r.Resolve(ctx, token)

	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKey(token))
		if ok {
			p.SRem(ctx, userSessionsKey(id.UserID), token)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke session: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAllForUser deletes every session issued to userID.  It backs
// "log out everywhere" and the role-change invalidation hook.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID int64) error {
	idx := userSessionsKey(userID)
	tokens, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w: %v", ErrStoreUnavailable, err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, sessionKey(t))
	}
	keys = append(keys, idx)
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke user sessions: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
