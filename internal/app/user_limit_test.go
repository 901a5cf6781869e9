package app

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	u "ogcard/internal/utils"
)

type memStore struct {
	sync.RWMutex
	m map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	return s.m[key], nil
}

func (s *memStore) Set(key string, val []byte, exp time.Duration) error {
	s.Lock()
	s.m[key] = val
	s.Unlock()
	return nil
}

func (s *memStore) Delete(key string) error {
	s.Lock()
	delete(s.m, key)
	s.Unlock()
	return nil
}

func (s *memStore) Reset() error {
	s.Lock()
	s.m = make(map[string][]byte)
	s.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func limitedRequest(agent string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", agent)
	req.RemoteAddr = "1.2.3.4:5678"
	return req
}

func TestUserRateLimitMiddleware(t *testing.T) {
	cfg := u.Config{}
	cfg.RateLimiter.EnableUserLimiter = true
	cfg.RateLimiter.UserLimit = 2
	cfg.RateLimiter.Interval = time.Hour

	rateLimitStore = newMemStore()
	t.Cleanup(func() { rateLimitStore = nil })

	app := fiber.New()
	app.Use(userRateLimitMiddleware(cfg))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(limitedRequest("agent-a"), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}

	resp, err := app.Test(limitedRequest("agent-a"), -1)
	if err != nil {
		t.Fatalf("third request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}

	// another user agent counts as another client
	resp, err = app.Test(limitedRequest("agent-b"), -1)
	if err != nil {
		t.Fatalf("other client request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for another client but got %d", resp.StatusCode)
	}
}

func TestUserRateLimitMiddleware_DisabledPassesThrough(t *testing.T) {
	cfg := u.Config{}

	app := fiber.New()
	app.Use(userRateLimitMiddleware(cfg))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 5; i++ {
		resp, err := app.Test(limitedRequest("agent"), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}
}

func TestNewRateLimitStore_FallsBackToMemory(t *testing.T) {
	cfg := u.DefaultConfig()
	cfg.Cache.RedisHost = "127.0.0.1:1"

	store := newRateLimitStore(cfg)
	if store == nil {
		t.Fatalf("expected a store")
	}
	if err := store.Set("k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("fallback store set: %v", err)
	}
	got, err := store.Get("k")
	if err != nil || string(got) != "v" {
		t.Fatalf("fallback store get = %q, %v", got, err)
	}
	_ = store.Close()
}
