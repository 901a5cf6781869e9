package card

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"ogcard/internal/chrome"
	"ogcard/internal/fonts"
	"ogcard/internal/metadata"
	u "ogcard/internal/utils"
)

const acquireTimeout = 5 * time.Second

var documentTmpl = template.Must(template.New("card").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
{{.FontFaces}}
html, body { margin: 0; padding: 0; }
* { box-sizing: border-box; }
.card {
  display: flex;
  width: {{.Width}}px;
  height: {{.Height}}px;
  background: #fff linear-gradient(to bottom, rgba(219, 203, 255, 0), rgba(219, 203, 255, 0.5));
  font-family: {{.Family}}, sans-serif;
  font-size: {{.FontSize}}px;
  line-height: {{.LineHeight}}px;
  font-weight: 400;
  color: #000;
}
.stack {
  display: flex;
  flex-direction: column;
  gap: {{.Gap}}px;
  width: 100%;
  padding: {{.Padding}}px;
}
.clamp {
  display: -webkit-box;
  -webkit-box-orient: vertical;
  overflow: hidden;
  overflow-wrap: anywhere;
  margin: 0;
}
.title { -webkit-line-clamp: {{.TitleLines}}; }
.description { -webkit-line-clamp: {{.DescriptionLines}}; }
</style>
</head>
<body>
<div class="card"><div class="stack">
<p class="clamp title">{{.Title}}</p>
<p class="clamp description">{{.Description}}</p>
</div></div>
</body>
</html>
`))

type documentData struct {
	FontFaces        template.CSS
	Family           template.CSS
	Width, Height    int
	FontSize         int
	LineHeight       int
	Gap              int
	Padding          int
	TitleLines       int
	DescriptionLines int
	Title            string
	Description      string
}

// Document renders the HTML page Chrome screenshots. Fonts are inlined as
// data URLs so the page never touches the network.
func Document(meta metadata.PageMetadata, req Request) (string, error) {
	family := "sans-serif"
	if len(req.Fonts) > 0 {
		family = cssString(req.Fonts[0].Name)
	}
	data := documentData{
		FontFaces:        template.CSS(fontFaces(req.Fonts)),
		Family:           template.CSS(family),
		Width:            req.Width,
		Height:           req.Height,
		FontSize:         FontSize,
		LineHeight:       LineHeight,
		Gap:              Gap,
		Padding:          Padding,
		TitleLines:       TitleLines,
		DescriptionLines: DescriptionLines,
		Title:            meta.Title,
		Description:      meta.Description,
	}
	var buf bytes.Buffer
	if err := documentTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render card document: %w", err)
	}
	return buf.String(), nil
}

func fontFaces(list []Font) string {
	var b strings.Builder
	for _, f := range list {
		if len(f.Data) == 0 {
			continue
		}
		mime, format := fontMIME(fonts.Format(f.Data))
		fmt.Fprintf(&b, "@font-face { font-family: %s; src: url(data:%s;base64,%s) format(%q); font-weight: %d; font-style: %s; }\n",
			cssString(f.Name), mime, base64.StdEncoding.EncodeToString(f.Data), format, f.Weight, f.Style)
	}
	return b.String()
}

func fontMIME(format string) (mime, hint string) {
	switch format {
	case fonts.FormatWOFF:
		return "font/woff", "woff"
	case fonts.FormatWOFF2:
		return "font/woff2", "woff2"
	case fonts.FormatOpenType:
		return "font/otf", "opentype"
	default:
		return "font/ttf", "truetype"
	}
}

// cssString quotes s as a CSS string literal.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ", "<", `\3c `)
	return `"` + r.Replace(s) + `"`
}

// ChromeRenderer screenshots the card document in headless Chrome. With a
// pool size above zero tabs come from a shared browser, otherwise every
// render launches its own.
type ChromeRenderer struct {
	cfg u.Config

	poolMu sync.Mutex
	pool   *chrome.Pool
}

func NewChromeRenderer(cfg u.Config) *ChromeRenderer {
	return &ChromeRenderer{cfg: cfg}
}

// Pool returns the shared pool, creating it on first use. It is nil when
// pooling is disabled.
func (r *ChromeRenderer) Pool() (*chrome.Pool, error) {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()

	if r.cfg.Render.ChromePoolSize <= 0 {
		return nil, nil
	}
	if r.pool != nil {
		return r.pool, nil
	}
	pool, err := chrome.NewPool(r.cfg)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return pool, nil
}

// Close shuts down the shared browser, if one was started.
func (r *ChromeRenderer) Close() {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
}

func (r *ChromeRenderer) Render(ctx context.Context, meta metadata.PageMetadata, req Request) ([]byte, error) {
	doc, err := Document(meta, req)
	if err != nil {
		return nil, err
	}

	pool, err := r.Pool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return r.renderWithChrome(ctx, doc, req)
	}

	return retryAfterRestart(ctx, pool.Restart, func() ([]byte, error) {
		return r.renderPooled(ctx, pool, doc, req)
	})
}

// retryAfterRestart runs render and, when the browser session died under it,
// restarts the browser and runs render once more. A failed restart returns
// the original render error without retrying.
func retryAfterRestart(ctx context.Context, restart func() error, render func() ([]byte, error)) ([]byte, error) {
	img, renderErr := render()
	if renderErr == nil || ctx.Err() != nil || !chrome.IsSessionInterrupted(renderErr) {
		return img, renderErr
	}

	u.Warn("Chrome session interrupted; restarting pool and retrying once", "error", renderErr)
	if err := restart(); err != nil {
		u.Error("Chrome pool restart failed", "error", err)
		return nil, fmt.Errorf("%w (pool restart failed: %v)", renderErr, err)
	}
	return render()
}

func (r *ChromeRenderer) renderPooled(ctx context.Context, pool *chrome.Pool, doc string, req Request) ([]byte, error) {
	acquireCtx, acquireCancel := context.WithTimeout(ctx, acquireTimeout)
	defer acquireCancel()

	tab, err := pool.Acquire(acquireCtx)
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := context.WithTimeout(tab.Ctx, r.timeout())
	// the tab context does not descend from ctx, so follow its cancellation
	stop := context.AfterFunc(ctx, cancel)
	img, renderErr := renderInTab(tabCtx, doc, req.Width, req.Height)
	stop()
	cancel()

	pool.Release(tab, renderErr)
	return img, renderErr
}

// renderWithChrome starts a throwaway browser for a single card.
func (r *ChromeRenderer) renderWithChrome(ctx context.Context, doc string, req Request) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "ogcard-chromedata-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chrome.AllocatorOptions(r.cfg, tmpDir)...)
	defer allocCancel()
	chromeCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	chromeCtx, timeoutCancel := context.WithTimeout(chromeCtx, r.timeout())
	defer timeoutCancel()

	return renderInTab(chromeCtx, doc, req.Width, req.Height)
}

func (r *ChromeRenderer) timeout() time.Duration {
	return time.Duration(r.cfg.Render.TimeoutSecs) * time.Second
}

// renderInTab loads doc into the tab, waits for its fonts and captures the
// viewport as PNG.
func renderInTab(ctx context.Context, doc string, width, height int) ([]byte, error) {
	var img []byte
	var fontsReady bool
	err := chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, doc).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`document.fonts.ready.then(() => true)`, &fontsReady, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
		chromedp.CaptureScreenshot(&img),
	)
	if err != nil {
		return nil, err
	}
	return img, nil
}
