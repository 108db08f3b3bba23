// Copyright (c) 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package statestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

type RedisPoolOption struct {
	f func(*redis.Pool)
}

func RedisPoolDial(f func() (redis.Conn, error)) RedisPoolOption {
	return RedisPoolOption{func(p *redis.Pool) {
		p.Dial = f
	}}
}

func RedisPoolMaxActive(i int) RedisPoolOption {
	return RedisPoolOption{func(p *redis.Pool) {
		p.MaxActive = i
	}}
}

func RedisPoolMaxIdle(i int) RedisPoolOption {
	return RedisPoolOption{func(p *redis.Pool) {
		p.MaxIdle = i
	}}
}

func RedisPoolIdleTimeout(timeout time.Duration) RedisPoolOption {
	return RedisPoolOption{func(p *redis.Pool) {
		p.IdleTimeout = timeout
	}}
}

// NewRedisPool returns a connection pool to a Redis server on localhost,
// unless overridden by the options.
func NewRedisPool(options ...RedisPoolOption) *redis.Pool {
	pool := &redis.Pool{
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", ":6379")
		},
		MaxIdle:     2,
		IdleTimeout: 5 * time.Minute,
	}

	for _, option := range options {
		option.f(pool)
	}

	return pool
}

// Redis is a Store keeping every entry as a JSON document under KeyPrefix + entity ID.
type Redis struct {
	Pool      *redis.Pool
	KeyPrefix string
}

func (r *Redis) key(entityID string) string { return r.KeyPrefix + entityID }

func (r *Redis) Get(ctx context.Context, entityID string) (Entry, bool, error) {
	conn, err := r.Pool.GetContext(ctx)
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "cannot get Redis connection")
	}
	defer conn.Close()

	raw, err := redis.Bytes(conn.Do("GET", r.key(entityID)))
	if err == redis.ErrNil {
		return Entry{}, false, nil
	} else if err != nil {
		return Entry{}, false, errors.Wrapf(err, "cannot GET %s", r.key(entityID))
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, errors.Wrapf(err, "cannot unmarshal entry %s", entityID)
	}
	return entry, true, nil
}

func (r *Redis) Set(ctx context.Context, entityID string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrapf(err, "cannot marshal entry %s", entityID)
	}

	conn, err := r.Pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot get Redis connection")
	}
	defer conn.Close()

	if _, err := conn.Do("SET", r.key(entityID), raw); err != nil {
		return errors.Wrapf(err, "cannot SET %s", r.key(entityID))
	}
	return nil
}
