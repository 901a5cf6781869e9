// Package chrome keeps a headless Chrome instance with a bounded number of
// concurrently open tabs.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	u "ogcard/internal/utils"
)

var (
	// ErrPoolDisabled is returned by NewPool when the configured size is zero.
	ErrPoolDisabled = errors.New("chrome pool disabled")
	// ErrPoolClosed is returned when acquiring from or restarting a closed pool.
	ErrPoolClosed = errors.New("chrome pool closed")
)

// Pool hands out tabs of one shared browser. The semaphore holds one token
// per free tab slot.
type Pool struct {
	mu sync.Mutex

	cfg        u.Config
	sem        chan struct{}
	profileDir string

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	closed      bool
	restarts    int
	lastRestart time.Time
}

// Tab is a browser tab leased from the pool.
type Tab struct {
	Ctx    context.Context
	cancel context.CancelFunc
}

// Stats is a snapshot of pool usage.
type Stats struct {
	Enabled      bool      `json:"enabled"`
	Capacity     int       `json:"capacity"`
	Idle         int       `json:"idle"`
	InUse        int       `json:"in_use"`
	PoolSizeConf int       `json:"pool_size_conf"`
	ProfileDir   string    `json:"profile_dir"`
	TimeoutSecs  int       `json:"timeout_secs"`
	Restarts     int       `json:"restarts"`
	LastRestart  time.Time `json:"last_restart"`
}

// NewPool prepares a browser with cfg.Render.ChromePoolSize tab slots. The
// browser process itself starts with the first render.
func NewPool(cfg u.Config) (*Pool, error) {
	size := cfg.Render.ChromePoolSize
	if size <= 0 {
		return nil, ErrPoolDisabled
	}
	p := &Pool{cfg: cfg, sem: make(chan struct{}, size)}
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
	}
	if err := p.start(); err != nil {
		return nil, err
	}
	u.Info("Chrome pool ready", "size", size, "profile_dir", p.profileDir)
	return p, nil
}

// AllocatorOptions returns the exec allocator flags used for every browser.
func AllocatorOptions(cfg u.Config, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Force software rendering and avoid Vulkan/ANGLE issues in minimal container environments.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.Render.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Render.ChromePath))
	}
	if cfg.Render.ChromeNoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

// createProfileDir makes a fresh user data directory below the configured base.
func createProfileDir(cfg u.Config) (string, error) {
	base := cfg.Render.UserDataDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create chrome profile base %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, "ogcard-chrome-*")
	if err != nil {
		return "", fmt.Errorf("create chrome profile dir: %w", err)
	}
	return dir, nil
}

// start must be called with p.mu held or before the pool is shared.
func (p *Pool) start() error {
	dir, err := createProfileDir(p.cfg)
	if err != nil {
		return err
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(p.cfg, dir)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	p.profileDir = dir
	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	return nil
}

// stop must be called with p.mu held.
func (p *Pool) stop() {
	if p.browserCancel != nil {
		p.browserCancel()
		p.browserCancel = nil
	}
	if p.allocCancel != nil {
		p.allocCancel()
		p.allocCancel = nil
	}
	if p.profileDir != "" {
		_ = os.RemoveAll(p.profileDir)
	}
}

// Acquire waits for a free slot and opens a new tab in the shared browser.
func (p *Pool) Acquire(ctx context.Context) (*Tab, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.sem:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.sem <- struct{}{}
		return nil, ErrPoolClosed
	}
	tabCtx, cancel := chromedp.NewContext(p.browserCtx)
	return &Tab{Ctx: tabCtx, cancel: cancel}, nil
}

// Release closes the tab and frees its slot. renderErr is the outcome of the
// work done in the tab, kept for logging.
func (p *Pool) Release(tab *Tab, renderErr error) {
	if tab != nil && tab.cancel != nil {
		tab.cancel()
	}
	if renderErr != nil {
		u.Debug("Chrome tab released after error", "error", renderErr)
	}
	select {
	case p.sem <- struct{}{}:
	default:
	}
}

// Restart replaces the browser with a fresh one in a new profile directory.
// Tabs still leased keep using the old browser until they are released.
func (p *Pool) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.stop()
	if err := p.start(); err != nil {
		return err
	}
	p.restarts++
	p.lastRestart = time.Now()
	u.Warn("Chrome pool restarted", "restarts", p.restarts, "profile_dir", p.profileDir)
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.stop()
}

// Stats reports slot usage. timeoutSecs is echoed for observability.
func (p *Pool) Stats(timeoutSecs int) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Stats{TimeoutSecs: timeoutSecs, Restarts: p.restarts, LastRestart: p.lastRestart}
	}
	capacity := cap(p.sem)
	idle := len(p.sem)
	return Stats{
		Enabled:      true,
		Capacity:     capacity,
		Idle:         idle,
		InUse:        capacity - idle,
		PoolSizeConf: p.cfg.Render.ChromePoolSize,
		ProfileDir:   p.profileDir,
		TimeoutSecs:  timeoutSecs,
		Restarts:     p.restarts,
		LastRestart:  p.lastRestart,
	}
}

// IsSessionInterrupted reports errors after which the browser should be
// considered unusable.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"target closed", "session closed", "websocket", "browser has disconnected", "invalid context"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
