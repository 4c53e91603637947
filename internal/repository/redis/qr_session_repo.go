// internal/repository/redis/qr_session_repo.go
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qrlogin-service/internal/domain/qrsession"
	xerrors "qrlogin-service/internal/pkg/errors"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "qr:session:"
	casRetries       = 5
	scanBatch        = 100
)

// QRSessionRepository is the Redis-backed session store. Records live as
// JSON values with a TTL of session lifetime plus retention, so terminal
// sessions garbage-collect themselves. Compare-and-swap updates run inside
// WATCH transactions: of two racing updates exactly one commits.
type QRSessionRepository struct {
	client    *redis.Client
	retention time.Duration
}

func NewQRSessionRepository(client *redis.Client, retention time.Duration) *QRSessionRepository {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &QRSessionRepository{client: client, retention: retention}
}

// Create stores a new session with SETNX so duplicate ids never overwrite.
func (r *QRSessionRepository) Create(ctx context.Context, s *qrsession.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(s.ExpiresAt) + r.retention
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	ok, err := r.client.SetNX(ctx, r.key(s.ID), data, ttl).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.ErrStorageUnavailable, err.Error())
	}
	if !ok {
		return xerrors.Wrap(xerrors.ErrStorageUnavailable, "duplicate session id")
	}
	return nil
}

// Get fetches and unmarshals one session.
func (r *QRSessionRepository) Get(ctx context.Context, id string) (*qrsession.Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrStorageUnavailable, err.Error())
	}

	var s qrsession.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// Update runs mutate inside a WATCH transaction. A concurrent write to the
// key aborts the transaction and the whole read-mutate-write is retried, so
// the callback always sees the latest committed record.
func (r *QRSessionRepository) Update(ctx context.Context, id string, mutate func(*qrsession.Session) error) (*qrsession.Session, error) {
	key := r.key(id)
	var result *qrsession.Session

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return xerrors.ErrNotFound
		}
		if err != nil {
			return xerrors.Wrap(xerrors.ErrStorageUnavailable, err.Error())
		}

		var s qrsession.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}

		if err := mutate(&s); err != nil {
			return err
		}

		data, err := json.Marshal(&s)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err == nil {
			result = &s
		}
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Lost the race; re-read and try again
			continue
		}
		return nil, err
	}
	return nil, xerrors.Wrap(xerrors.ErrStorageUnavailable, "cas retries exhausted")
}

// ScanExpired walks the session keyspace and returns overdue non-terminal
// records. Terminal records need no handling here: their key TTL reaps them.
func (r *QRSessionRepository) ScanExpired(ctx context.Context, now time.Time, limit int) ([]*qrsession.Session, error) {
	var out []*qrsession.Session
	var cursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, cursor, sessionKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.ErrStorageUnavailable, err.Error())
		}

		for _, key := range keys {
			raw, err := r.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue // reaped between SCAN and GET
			}
			if err != nil {
				return nil, xerrors.Wrap(xerrors.ErrStorageUnavailable, err.Error())
			}

			var s qrsession.Session
			if err := json.Unmarshal(raw, &s); err != nil {
				continue // skip corrupt records, the TTL will reap them
			}
			if s.Status.IsTerminal() || s.ExpiresAt.After(now) {
				continue
			}
			out = append(out, &s)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}

		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (r *QRSessionRepository) key(id string) string {
	return sessionKeyPrefix + id
}
