// Package cache keeps generated pages of SOAP notes so repeated requests for
// the same page do not hit the model again.
package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-redis/redis/v8"

	"patient-summary-agent/internal/config"
)

// Key identifies a page of notes.  The same page number with a different
// size is a different page.
type Key struct {
	Page int
	Size int
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.Page, k.Size)
}

// PageCache stores pages of generated notes.
type PageCache interface {
	Get(ctx context.Context, key Key) ([]string, bool, error)
	Set(ctx context.Context, key Key, notes []string) error
	Len(ctx context.Context) (int, error)
}

// Memory is a process-local PageCache.
type Memory struct {
	mu    sync.RWMutex
	pages map[Key][]string
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{pages: make(map[Key][]string)}
}

// Get returns a copy of the cached page.
func (m *Memory) Get(_ context.Context, key Key) ([]string, bool, error) {
	m.mu.RLock()
	notes, ok := m.pages[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(notes), true, nil
}

// Set stores a copy of notes under key.
func (m *Memory) Set(_ context.Context, key Key, notes []string) error {
	cp := slices.Clone(notes)
	if cp == nil {
		cp = []string{}
	}
	m.mu.Lock()
	m.pages[key] = cp
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached pages.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages), nil
}

// New builds the cache selected by cfg.CacheBackend.
func New(cfg *config.Config) (PageCache, error) {
	switch cfg.CacheBackend {
	case config.CacheMemory, "":
		return NewMemory(), nil
	case config.CacheRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return NewRedis(redis.NewClient(opts), cfg.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
