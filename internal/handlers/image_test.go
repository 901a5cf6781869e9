package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"ogcard/internal/card"
	"ogcard/internal/fonts/fontstest"
	"ogcard/internal/metadata"
	u "ogcard/internal/utils"
)

const testPage = `<!DOCTYPE html>
<html><head>
<title>Fallback title</title>
<meta property="og:title" content="Epilogue">
<meta property="og:description" content="The last chapter of the story.">
</head><body><article>ignored</article></body></html>`

type upstream struct {
	*httptest.Server
	pageHits atomic.Int32
	fontHits atomic.Int32
}

// newUpstream serves the page under /page and both fonts under /fonts, as TTF
// and as WOFF.
func newUpstream(t *testing.T) *upstream {
	t.Helper()
	regularWOFF, err := fontstest.WOFF(goregular.TTF)
	require.NoError(t, err)
	boldWOFF, err := fontstest.WOFF(gobold.TTF)
	require.NoError(t, err)

	up := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		up.pageHits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, testPage)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		up.pageHits.Add(1)
		http.Error(w, "gone", http.StatusGone)
	})
	mux.HandleFunc("/fonts/regular.ttf", func(w http.ResponseWriter, r *http.Request) {
		up.fontHits.Add(1)
		_, _ = w.Write(goregular.TTF)
	})
	mux.HandleFunc("/fonts/bold.ttf", func(w http.ResponseWriter, r *http.Request) {
		up.fontHits.Add(1)
		_, _ = w.Write(gobold.TTF)
	})
	mux.HandleFunc("/fonts/regular.woff", func(w http.ResponseWriter, r *http.Request) {
		up.fontHits.Add(1)
		w.Header().Set("Content-Type", "font/woff")
		_, _ = w.Write(regularWOFF)
	})
	mux.HandleFunc("/fonts/bold.woff", func(w http.ResponseWriter, r *http.Request) {
		up.fontHits.Add(1)
		w.Header().Set("Content-Type", "font/woff")
		_, _ = w.Write(boldWOFF)
	})
	up.Server = httptest.NewServer(mux)
	t.Cleanup(up.Close)
	return up
}

func testImageCfg(up *upstream) u.Config {
	cfg := u.DefaultConfig()
	cfg.Page.URL = up.URL + "/page"
	cfg.Page.TimeoutSecs = 2
	cfg.Fonts.Family = "Go"
	cfg.Fonts.RegularURL = up.URL + "/fonts/regular.ttf"
	cfg.Fonts.BoldURL = up.URL + "/fonts/bold.ttf"
	cfg.Fonts.TimeoutSecs = 2
	return cfg
}

func newImageApp(svc *ImageService) *fiber.App {
	app := fiber.New()
	app.Get("/api/image", svc.HandleImage)
	app.Get("/v1/chrome/stats", svc.HandleChromeStats)
	return app
}

func get(t *testing.T, app *fiber.App, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHandleImage_RendersCard(t *testing.T) {
	up := newUpstream(t)
	app := newImageApp(NewImageService(testImageCfg(up), nil))

	resp, body := get(t, app, "/api/image")
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, s-maxage=31536000, stale-if-error=86400, stale-while-revalidate=31536000", resp.Header.Get("Cache-Control"))

	img, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1200, 627), img.Bounds())
}

func TestHandleImage_RendersWOFFFonts(t *testing.T) {
	up := newUpstream(t)
	cfg := testImageCfg(up)
	cfg.Fonts.RegularURL = up.URL + "/fonts/regular.woff"
	cfg.Fonts.BoldURL = up.URL + "/fonts/bold.woff"
	app := newImageApp(NewImageService(cfg, nil))

	resp, body := get(t, app, "/api/image")
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, int32(2), up.fontHits.Load())

	img, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1200, 627), img.Bounds())

	_, ttfBody := get(t, newImageApp(NewImageService(testImageCfg(up), nil)), "/api/image")
	assert.Equal(t, ttfBody, body)
}

func TestHandleImage_FontsFetchedOnce(t *testing.T) {
	up := newUpstream(t)
	app := newImageApp(NewImageService(testImageCfg(up), nil))

	for i := 0; i < 3; i++ {
		resp, body := get(t, app, "/api/image")
		require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))
	}
	assert.Equal(t, int32(3), up.pageHits.Load())
	assert.Equal(t, int32(2), up.fontHits.Load())
}

func TestHandleImage_UpstreamNon2xx(t *testing.T) {
	up := newUpstream(t)
	cfg := testImageCfg(up)
	cfg.Page.URL = up.URL + "/gone"
	app := newImageApp(NewImageService(cfg, nil))

	resp, body := get(t, app, "/api/image")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "html data is not exist - url - "+cfg.Page.URL, payload["message"])
	assert.Equal(t, int32(0), up.fontHits.Load(), "fonts must not load for a missing page")
}

func TestHandleImage_Failures(t *testing.T) {
	up := newUpstream(t)

	tests := []struct {
		name   string
		mutate func(cfg *u.Config)
	}{
		{"page transport error", func(cfg *u.Config) { cfg.Page.URL = "http://127.0.0.1:1/page" }},
		{"font missing", func(cfg *u.Config) { cfg.Fonts.BoldURL = up.URL + "/fonts/missing.ttf" }},
		{"page too large", func(cfg *u.Config) { cfg.Limits.MaxHTMLBytes = 16 }},
		{"image too large", func(cfg *u.Config) { cfg.Limits.MaxImageBytes = 16 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testImageCfg(up)
			tc.mutate(&cfg)
			app := newImageApp(NewImageService(cfg, nil))

			resp, _ := get(t, app, "/api/image")
			assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
		})
	}
}

func TestHandleImage_RedisCache(t *testing.T) {
	up := newUpstream(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testImageCfg(up)
	cfg.Cache.ImageCacheEnabled = true
	cfg.Cache.ImageCacheTTL = time.Hour
	app := newImageApp(NewImageService(cfg, rdb))

	resp, body := get(t, app, "/api/image")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	key := computeImageCacheKey(&cfg, metadata.PageMetadata{
		Title:       "Epilogue",
		Description: "The last chapter of the story.",
	})
	require.True(t, mr.Exists(key))
	stored, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, string(body), stored)
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	mr.Set(key, "cached card")
	resp, body = get(t, app, "/api/image")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "cached card", string(body))
	assert.Equal(t, card.CacheControl, resp.Header.Get("Cache-Control"))
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestHandleImage_RedisDownStillRenders(t *testing.T) {
	up := newUpstream(t)
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testImageCfg(up)
	cfg.Cache.ImageCacheEnabled = true
	app := newImageApp(NewImageService(cfg, rdb))

	resp, _ := get(t, app, "/api/image")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestComputeImageCacheKey(t *testing.T) {
	meta := metadata.PageMetadata{Title: "a", Description: "b"}
	base := u.DefaultConfig()
	key := computeImageCacheKey(&base, meta)

	assert.Contains(t, key, "imgcache:")
	same := u.DefaultConfig()
	assert.Equal(t, key, computeImageCacheKey(&same, meta))
	assert.NotEqual(t, key, computeImageCacheKey(&base, metadata.PageMetadata{Title: "ab"}))

	changes := map[string]func(*u.Config){
		"engine":      func(c *u.Config) { c.Render.Engine = u.EngineChrome },
		"family":      func(c *u.Config) { c.Fonts.Family = "Noto Sans" },
		"regular url": func(c *u.Config) { c.Fonts.RegularURL = "http://fonts.example/Regular.woff2" },
		"bold url":    func(c *u.Config) { c.Fonts.BoldURL = "http://fonts.example/Bold.woff2" },
	}
	for name, change := range changes {
		cfg := u.DefaultConfig()
		change(&cfg)
		assert.NotEqual(t, key, computeImageCacheKey(&cfg, meta), name)
	}
}

func TestHandleImage_FontChangeMissesCache(t *testing.T) {
	up := newUpstream(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testImageCfg(up)
	cfg.Cache.ImageCacheEnabled = true
	resp, _ := get(t, newImageApp(NewImageService(cfg, rdb)), "/api/image")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, mr.Keys(), 1)

	cfg.Fonts.RegularURL = up.URL + "/fonts/regular.woff"
	resp, _ = get(t, newImageApp(NewImageService(cfg, rdb)), "/api/image")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, mr.Keys(), 2)
	assert.Equal(t, int32(4), up.fontHits.Load())
}

func TestHandleChromeStats(t *testing.T) {
	up := newUpstream(t)

	native := newImageApp(NewImageService(testImageCfg(up), nil))
	resp, body := get(t, native, "/v1/chrome/stats")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, false, stats["enabled"])
	assert.Equal(t, u.EngineNative, stats["engine"])

	broken := testImageCfg(up)
	broken.Render.Engine = u.EngineChrome
	broken.Render.ChromePoolSize = 1
	broken.Render.UserDataDir = "/dev/null/profiles"
	resp, _ = get(t, newImageApp(NewImageService(broken, nil)), "/v1/chrome/stats")
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	pooled := testImageCfg(up)
	pooled.Render.Engine = u.EngineChrome
	pooled.Render.ChromePoolSize = 2
	pooled.Render.ChromePath = "/bin/true"
	pooled.Render.UserDataDir = t.TempDir()
	svc := NewImageService(pooled, nil)
	t.Cleanup(func() { _ = svc.Close() })

	resp, body = get(t, newImageApp(svc), "/v1/chrome/stats")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	stats = map[string]any{}
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, float64(2), stats["capacity"])
	assert.Equal(t, float64(2), stats["idle"])
}
