package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// SessionStore keeps sessions in Redis as JSON documents so they outlive a
// coordinator restart. Deltas are fanned out in-process, so a store is served
// by one coordinator instance at a time. Layout:
//
//	quiz:session:{id}  JSON session, refreshed TTL on every write
//	quiz:code:{code}   session id, claimed with SETNX
//	quiz:sessions      set of live session ids
//
// Update is an optimistic WATCH/MULTI transaction conditioned on the stored version.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

const sessionIndexKey = "quiz:sessions"

func (s *SessionStore) key(id string) string {
	return "quiz:session:" + id
}

func (s *SessionStore) codeKey(code string) string {
	return "quiz:code:" + code
}

func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	claimed, err := s.client.SetNX(ctx, s.codeKey(session.Code), session.ID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim join code: %w", err)
	}
	if !claimed {
		return domain.ErrCodeTaken
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(session.ID), data, s.ttl)
		pipe.SAdd(ctx, sessionIndexKey, session.ID)
		return nil
	})
	if err != nil {
		_ = s.client.Del(ctx, s.codeKey(session.Code)).Err()
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(raw)
}

func (s *SessionStore) GetByCode(ctx context.Context, code string) (*domain.Session, error) {
	id, err := s.client.Get(ctx, s.codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve join code: %w", err)
	}
	return s.Get(ctx, id)
}

// Update writes session if the stored version equals expectedVersion. A
// concurrent write between WATCH and EXEC aborts the transaction and is
// reported as a version conflict as well.
func (s *SessionStore) Update(ctx context.Context, session *domain.Session, expectedVersion int64) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	key := s.key(session.ID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return domain.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if s.ttl > 0 {
				pipe.Expire(ctx, s.codeKey(session.Code), s.ttl)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return domain.ErrVersionConflict
	case err == nil, errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrSessionNotFound):
		return err
	default:
		return fmt.Errorf("update session: %w", err)
	}
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			_ = s.client.SRem(ctx, sessionIndexKey, id).Err()
		}
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id), s.codeKey(session.Code))
		pipe.SRem(ctx, sessionIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns every indexed session ordered by creation time. Index entries
// whose document has expired are removed along the way.
func (s *SessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	ids, err := s.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]*domain.Session, 0, len(ids))
	var expired []interface{}
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			expired = append(expired, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", ids[i], err)
		}
		session, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if len(expired) > 0 {
		_ = s.client.SRem(ctx, sessionIndexKey, expired...).Err()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func decodeSession(raw []byte) (*domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}
