package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// this ping function checks redis connectivity

func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.redisdb.Close()
}

// OnceWithin claims a cluster-wide marker. It returns true for exactly one
// caller per ttl window across all processes (SET NX EX). Errors are reported
// as "not claimed" so callers fail toward doing nothing twice.
func (c *Client) OnceWithin(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := c.redisdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false
	}
	return ok
}

// GetString fetches a raw string value; empty string when missing.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	v, err := c.redisdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func (c *Client) SetString(ctx context.Context, key, val string, ttl time.Duration) error {
	return c.redisdb.Set(ctx, key, val, ttl).Err()
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.redisdb.Del(ctx, keys...).Err()
}

