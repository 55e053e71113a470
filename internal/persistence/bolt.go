package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/spigell/careerhub/internal/activity"
	"github.com/spigell/careerhub/internal/stats"
)

var bucketUsers = []byte("users")

// BoltStore implements UserStore on top of a bbolt database file.
type BoltStore struct {
	db            *bolt.DB
	activityLimit int
	now           func() time.Time
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, activityLimit int) (*BoltStore, error) {
	if activityLimit <= 0 {
		activityLimit = DefaultActivityLimit
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsers); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketUsers, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, activityLimit: activityLimit, now: time.Now}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Find(ctx context.Context, identity string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := userKey(identity)
	if err != nil {
		return nil, err
	}

	var user User
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, identity)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Load returns the stored stats of identity as an in-memory record. found is
// false when no record exists.
func (s *BoltStore) Load(ctx context.Context, identity string) (rec stats.Record, found bool, err error) {
	user, err := s.Find(ctx, identity)
	switch {
	case errors.Is(err, ErrNotFound):
		return stats.Record{}, false, nil
	case err != nil:
		return stats.Record{}, false, err
	}
	return user.Stats.Record(), true, nil
}

func (s *BoltStore) Apply(ctx context.Context, identity string, update Update) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := userKey(identity)
	if err != nil {
		return nil, err
	}

	var user User
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		now := s.now().UTC()

		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &user); err != nil {
				return fmt.Errorf("%w: decoding user %s: %v", ErrPersistence, identity, err)
			}
		} else {
			user = User{Email: string(key), CreatedAt: now}
		}

		for m, amount := range update.Increments {
			user.Stats.add(m, amount)
		}

		if len(update.Prepend) > 0 {
			merged := make([]activity.Entry, 0, len(update.Prepend)+len(user.Stats.Activities))
			merged = append(merged, update.Prepend...)
			merged = append(merged, user.Stats.Activities...)
			if len(merged) > s.activityLimit {
				merged = merged[:s.activityLimit]
			}
			user.Stats.Activities = merged
		}
		user.UpdatedAt = now

		data, err := json.Marshal(&user)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func userKey(identity string) ([]byte, error) {
	identity = stats.CanonicalIdentity(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is required", ErrPersistence)
	}
	return []byte(identity), nil
}
