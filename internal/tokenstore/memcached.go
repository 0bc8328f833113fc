package tokenstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const memcachedKeyPrefix = "zappai:"

// MemcachedStore implements Store using memcached. Useful when several CLI
// processes on different hosts share one login.
type MemcachedStore struct {
	client *memcache.Client
	key    string
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout uses the package
// default if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, key string) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if key == "" {
		key = "zappaiAccessToken"
	}
	return &MemcachedStore{client: client, key: memcachedKeyPrefix + key}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Read implements Store.Read. Returns ok=false, nil on cache miss.
func (s *MemcachedStore) Read(ctx context.Context) (string, bool, error) {
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}
	item, err := s.client.Get(s.key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(item.Value), true, nil
}

// Write implements Store.Write. The token never expires on the memcached side;
// the backend decides validity.
func (s *MemcachedStore) Write(ctx context.Context, token string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.client.Set(&memcache.Item{
		Key:   s.key,
		Value: []byte(token),
	})
}

// Clear implements Store.Clear.
func (s *MemcachedStore) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := s.client.Delete(s.key)
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return nil
}

// Ping checks if memcached is reachable.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
