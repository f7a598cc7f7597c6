// Package rediscache puts a Redis read-through cache in front of membership
// lookups. Every sent message needs the member list for fan-out and
// membership never changes after creation, so entries are never invalidated.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pliu/chatterbox/internal/models"
	"github.com/pliu/chatterbox/internal/store"
)

const membersPrefix = "chat:members:"

// Client is the subset of the Redis client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

var _ store.Store = (*Store)(nil)

type Store struct {
	store.Store

	client Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

func New(next store.Store, client Client, ttl time.Duration, log logrus.FieldLogger) *Store {
	return &Store{Store: next, client: client, ttl: ttl, log: log}
}

// Connect opens a Redis client and checks it answers within three seconds.
func Connect(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return rdb, nil
}

func membersKey(channel string) string { return membersPrefix + channel }

// GetMembers serves from Redis when possible. Cache failures fall back to
// the wrapped store; only its errors reach the caller.
func (s *Store) GetMembers(ctx context.Context, channel string) ([]models.UserID, error) {
	key := membersKey(channel)

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var members []models.UserID
		jerr := json.Unmarshal(raw, &members)
		if jerr == nil {
			return members, nil
		}
		s.log.WithError(jerr).WithField("key", key).Warn("discarding undecodable cache entry")
	case errors.Is(err, redis.Nil):
	default:
		s.log.WithError(err).WithField("key", key).Warn("redis get failed, reading through")
	}

	members, err := s.Store.GetMembers(ctx, channel)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(members)
	if err != nil {
		return members, nil
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("redis set failed")
	}
	return members, nil
}

func (s *Store) Close() error {
	cerr := s.client.Close()
	if err := s.Store.Close(); err != nil {
		return err
	}
	return cerr
}
