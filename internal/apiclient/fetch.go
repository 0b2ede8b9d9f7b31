package apiclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ProgressFunc receives a 0–100 percentage as bytes move. Implementations
// must be cheap — it is called on every read of the transfer stream.
type ProgressFunc func(percent int)

// progressReader wraps a response body, reporting percentage progress
// derived from the expected total. When the total is unknown (<= 0), no
// intermediate progress is reported — only the caller's final 100.
type progressReader struct {
	r        io.Reader
	total    int64
	loaded   int64
	progress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.loaded += int64(n)

	if p.progress != nil && p.total > 0 {
		p.progress(Percent(p.loaded, p.total))
	}

	return n, err
}

// Percent computes round(loaded*100/total), clamped to [0,100].
func Percent(loaded, total int64) int {
	if total <= 0 {
		return 0
	}

	pct := int((loaded*100 + total/2) / total)
	if pct > 100 {
		pct = 100
	}

	if pct < 0 {
		pct = 0
	}

	return pct
}

// FetchURL streams the bytes behind an absolute URL to w, reporting
// percentage progress from Content-Length. Used for provider download URLs
// and export/relay endpoints; the URL may embed its own auth, so the broker
// token is only attached for same-origin requests.
//
// Unlike Do, FetchURL never retries — a partially consumed stream cannot be
// replayed safely. Returns the number of bytes written.
func (c *Client) FetchURL(ctx context.Context, rawURL string, w io.Writer, progress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("apiclient: creating fetch request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	if len(rawURL) >= len(c.baseURL) && rawURL[:len(c.baseURL)] == c.baseURL {
		tok, tokErr := c.token.Token()
		if tokErr != nil {
			return 0, fmt.Errorf("apiclient: obtaining token for fetch: %w", tokErr)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("apiclient: fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

		return 0, newStatusError(resp.StatusCode, body)
	}

	pr := &progressReader{
		r:        resp.Body,
		total:    resp.ContentLength,
		progress: progress,
	}

	n, copyErr := io.Copy(w, pr)
	if copyErr != nil {
		c.logger.Error("streaming fetch failed",
			slog.String("error", copyErr.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("apiclient: streaming fetch: %w", copyErr)
	}

	if progress != nil {
		// Force the final 100 even when Content-Length was absent or the
		// last read landed short of it after rounding.
		progress(100)
	}

	return n, nil
}
