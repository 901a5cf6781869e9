package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/redis/go-redis/v9"

	"ogcard/internal/card"
	"ogcard/internal/fonts"
	"ogcard/internal/metadata"
	u "ogcard/internal/utils"
)

// ImageService bundles configuration and dependencies for card rendering.
type ImageService struct {
	Config *u.Config
	Redis  *redis.Client
	Fonts  *fonts.Cache
	HTTP   *retryablehttp.Client

	renderer card.Renderer
	chrome   *card.ChromeRenderer
}

// NewImageService creates a new ImageService. The font cache starts empty and
// is filled by the first request that needs it.
func NewImageService(cfg u.Config, rdb *redis.Client) *ImageService {
	client := u.NewHTTPClient(cfg.Page.RetryMax, time.Duration(cfg.Page.TimeoutSecs)*time.Second)
	fontClient := u.NewHTTPClient(cfg.Page.RetryMax, time.Duration(cfg.Fonts.TimeoutSecs)*time.Second)

	svc := &ImageService{
		Config: &cfg,
		Redis:  rdb,
		Fonts:  fonts.NewCache(fontClient, cfg.Fonts.RegularURL, cfg.Fonts.BoldURL),
		HTTP:   client,
	}
	if cfg.Render.Engine == u.EngineChrome {
		svc.chrome = card.NewChromeRenderer(cfg)
		svc.renderer = svc.chrome
	} else {
		svc.renderer = card.NewNativeRenderer()
	}
	return svc
}

// Close releases the Chrome pool, if the chrome engine started one.
func (svc *ImageService) Close() error {
	if svc.chrome != nil {
		svc.chrome.Close()
	}
	return nil
}

// HandleImage fetches the configured page, reads its title and description
// and answers with the rendered card.
func (svc *ImageService) HandleImage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	pageURL := svc.Config.Page.URL

	html, err := svc.fetchPage(ctx, pageURL)
	if err != nil {
		if errors.Is(err, ErrPageUnavailable) {
			u.Warn("Page unavailable", "url", pageURL, "error", err)
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": "html data is not exist - url - " + pageURL,
			})
		}
		return err
	}

	meta, err := metadata.Extract(html)
	if err != nil {
		return fmt.Errorf("extract metadata: %w", err)
	}

	cacheKey := computeImageCacheKey(svc.Config, meta)
	if svc.cacheEnabled() {
		if cached, err := getCachedImage(ctx, svc.Redis, cacheKey); err == nil && cached != nil {
			return sendImage(c, cached, card.ResponseHeaders())
		}
	}

	set, err := svc.Fonts.Load(ctx)
	if err != nil {
		return fmt.Errorf("load fonts: %w", err)
	}

	req := card.NewRequest(svc.Config.Fonts.Family, set)
	img, err := svc.renderer.Render(ctx, meta, req)
	if err != nil {
		u.Error("Card rendering failed", "engine", svc.Config.Render.Engine, "error", err)
		return fmt.Errorf("render card: %w", err)
	}
	if len(img) > svc.Config.Limits.MaxImageBytes {
		return fmt.Errorf("rendered card is %d bytes, limit %d", len(img), svc.Config.Limits.MaxImageBytes)
	}

	if svc.cacheEnabled() {
		setCachedImage(ctx, svc.Redis, cacheKey, img, svc.Config.Cache.ImageCacheTTL)
	}

	u.Info("Card generated", "title", meta.Title, "bytes", len(img), "request_id", c.GetRespHeader(fiber.HeaderXRequestID))
	return sendImage(c, img, req.Headers)
}

func sendImage(c *fiber.Ctx, img []byte, headers map[string]string) error {
	for k, v := range headers {
		c.Set(k, v)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Status(fiber.StatusOK).Send(img)
}

func (svc *ImageService) cacheEnabled() bool {
	return svc.Redis != nil && svc.Config.Cache.ImageCacheEnabled
}

// computeImageCacheKey hashes everything that changes the rendered pixels.
func computeImageCacheKey(cfg *u.Config, meta metadata.PageMetadata) string {
	h := sha256.New()
	for _, part := range []string{
		cfg.Render.Engine,
		cfg.Fonts.Family,
		cfg.Fonts.RegularURL,
		cfg.Fonts.BoldURL,
		meta.Title,
		meta.Description,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "imgcache:" + hex.EncodeToString(h.Sum(nil))
}

// getCachedImage returns nil, nil on a cache miss.
func getCachedImage(ctx context.Context, rdb *redis.Client, key string) ([]byte, error) {
	ctxRedis, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	cached, err := rdb.Get(ctxRedis, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return nil, err
	}

	u.Info("Card cache hit", "key", key)
	return cached, nil
}

func setCachedImage(ctx context.Context, rdb *redis.Client, key string, data []byte, ttl time.Duration) {
	ctxRedis, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if ttl <= 0 {
		ttl = 1 * time.Minute
	}

	if err := rdb.Set(ctxRedis, key, data, ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}

// HandleChromeStats exposes capacity and usage of the Chrome tab pool.
func (svc *ImageService) HandleChromeStats(c *fiber.Ctx) error {
	timeoutSecs := svc.Config.Render.TimeoutSecs
	disabled := fiber.Map{
		"enabled":        false,
		"engine":         svc.Config.Render.Engine,
		"capacity":       0,
		"idle":           0,
		"in_use":         0,
		"pool_size_conf": svc.Config.Render.ChromePoolSize,
		"profile_dir":    "",
		"timeout_secs":   timeoutSecs,
		"restarts":       0,
	}
	if svc.chrome == nil {
		return c.JSON(disabled)
	}

	pool, err := svc.chrome.Pool()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Chrome pool init failed: "+err.Error())
	}
	if pool == nil {
		return c.JSON(disabled)
	}

	s := pool.Stats(timeoutSecs)
	return c.JSON(fiber.Map{
		"enabled":        s.Enabled,
		"engine":         svc.Config.Render.Engine,
		"capacity":       s.Capacity,
		"idle":           s.Idle,
		"in_use":         s.InUse,
		"pool_size_conf": s.PoolSizeConf,
		"profile_dir":    s.ProfileDir,
		"timeout_secs":   timeoutSecs,
		"restarts":       s.Restarts,
		"last_restart":   s.LastRestart,
	})
}
