// Package fonts fetches the card font binaries once per process and converts
// web font containers into raw SFNT data for rasterization.
package fonts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	u "ogcard/internal/utils"
)

// ErrFontUnavailable reports a font URL that did not answer with 2xx.
var ErrFontUnavailable = errors.New("font unavailable")

const maxFontBytes = 10 << 20

// Set holds the regular and bold font binaries. The slices are shared and
// must not be modified.
type Set struct {
	Regular []byte
	Bold    []byte
}

// Cache is process-scoped font state: empty until the first successful Load,
// never refreshed afterwards. Failed loads are not remembered.
type Cache struct {
	client     *retryablehttp.Client
	regularURL string
	boldURL    string

	mu  sync.RWMutex
	set *Set

	fetches atomic.Int64
}

// NewCache creates an empty cache that fetches from the given URLs.
func NewCache(client *retryablehttp.Client, regularURL, boldURL string) *Cache {
	return &Cache{client: client, regularURL: regularURL, boldURL: boldURL}
}

// Load returns the cached fonts, fetching both variants concurrently when the
// cache is still empty. Concurrent cold loads may each fetch; the first
// stored result wins.
func (c *Cache) Load(ctx context.Context) (Set, error) {
	c.mu.RLock()
	if c.set != nil {
		s := *c.set
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	fetched, err := c.fetchAll(ctx)
	if err != nil {
		return Set{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set == nil {
		c.set = &fetched
		u.Info("Fonts cached", "regular_bytes", len(fetched.Regular), "bold_bytes", len(fetched.Bold))
	}
	return *c.set, nil
}

// Loaded reports whether the fonts have been cached.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set != nil
}

// Fetches returns how many font downloads have been started.
func (c *Cache) Fetches() int64 {
	return c.fetches.Load()
}

func (c *Cache) fetchAll(ctx context.Context) (Set, error) {
	var s Set
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := c.fetch(gctx, c.regularURL)
		s.Regular = data
		return err
	})
	g.Go(func() error {
		data, err := c.fetch(gctx, c.boldURL)
		s.Bold = data
		return err
	})
	if err := g.Wait(); err != nil {
		return Set{}, err
	}
	return s, nil
}

func (c *Cache) fetch(ctx context.Context, url string) ([]byte, error) {
	c.fetches.Add(1)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build font request %s: %w", url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch font %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrFontUnavailable, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFontBytes))
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", url, err)
	}
	return data, nil
}
