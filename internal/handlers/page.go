package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrPageUnavailable reports a page URL that answered with a non-2xx status.
var ErrPageUnavailable = errors.New("page unavailable")

// fetchPage downloads the page HTML. Non-2xx answers wrap ErrPageUnavailable;
// transport failures and oversized bodies are returned as plain errors.
func (svc *ImageService) fetchPage(ctx context.Context, url string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := svc.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: %s answered %d", ErrPageUnavailable, url, resp.StatusCode)
	}

	limit := int64(svc.Config.Limits.MaxHTMLBytes)
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read page %s: %w", url, err)
	}
	if int64(len(body)) > limit {
		return "", fmt.Errorf("page %s exceeds %d bytes", url, limit)
	}
	return string(body), nil
}
