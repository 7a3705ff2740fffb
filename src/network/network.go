package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"telemetry-backbone/src/helpers"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/models"
)

// maxBodyBytes is the default bound on a single scrape payload.
const maxBodyBytes = 16 << 20

// ErrBodyTooLarge is the cause of a ScrapeError for a payload over MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

type HTTPFetcher struct {
	Client       *http.Client
	UserAgent    string
	MaxRetries   int
	RetryDelay   time.Duration
	MaxBodyBytes int64
	Logger       *logger.Logger
}

// -----------------------------------------------------------------------------

func NewHTTPFetcher(cfg models.MNetworkConfig, log *logger.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		UserAgent:    cfg.UserAgent,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   200 * time.Millisecond,
		MaxBodyBytes: maxBodyBytes,
		Logger:       log,
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries. The caller's context bounds the
// whole call including backoff sleeps.
func (f *HTTPFetcher) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	reqUrl, err := url.Parse(urlStr)
	if err != nil {
		return nil, helpers.NewScrapeError(urlStr, 0, err)
	}

	if len(params) > 0 {
		q := reqUrl.Query()
		for k, v := range params {
			q.Add(k, v)
		}
		reqUrl.RawQuery = q.Encode()
	}
	finalUrl := reqUrl.String()

	var body []byte
	err = helpers.RetryWithBackoff(ctx, "GET "+finalUrl, f.MaxRetries, f.RetryDelay, func(ctx context.Context) error {
		b, err := f.do(ctx, finalUrl)
		if err != nil {
			f.Logger.Debug("Request to %s failed: %v", finalUrl, err)
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// -----------------------------------------------------------------------------

func (f *HTTPFetcher) do(ctx context.Context, finalUrl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalUrl, nil)
	if err != nil {
		return nil, helpers.NewScrapeError(finalUrl, 0, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, helpers.NewScrapeError(finalUrl, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, helpers.NewScrapeError(finalUrl, resp.StatusCode, nil)
	}

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = maxBodyBytes
	}
	// one extra byte tells a payload of exactly limit bytes from a cut one
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, helpers.NewScrapeError(finalUrl, 0, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > limit {
		return nil, helpers.NewScrapeError(finalUrl, 0, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit))
	}
	return body, nil
}
