// Package rediscache keeps embedding vectors in Redis so repeated runs over
// the same corpus skip the encoder.
package rediscache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "pubgraph:embed:"

type Cache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// New connects to Redis. url may be a redis:// URL or a plain host:port.
func New(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("missing redis url")
	}

	var opts *goredis.Options
	if strings.Contains(url, "://") {
		parsed, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: url}
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	rdb := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decodeVector(raw)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, vec []float32) error {
	return c.rdb.Set(ctx, keyPrefix+key, encodeVector(vec), c.ttl).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// encodeVector stores float32 values little-endian, four bytes each.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector of %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}
