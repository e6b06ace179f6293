// Package redis stores portfolio documents and transaction logs in Redis.
package redis

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"-"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

func (c *Config) Setup() *Config {
	const (
		defaultAddr      = "localhost:6379"
		defaultPoolSize  = 10
		defaultKeyPrefix = "vt"
	)

	c.Addr = cmp.Or(c.Addr, defaultAddr)
	c.KeyPrefix = cmp.Or(c.KeyPrefix, defaultKeyPrefix)
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	return c
}

func NewClient(cfg *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: can't connect to redis at %s", err, cfg.Addr)
	}
	return client, nil
}
