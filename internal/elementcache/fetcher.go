package elementcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/mapit-go/internal/element"
	"github.com/wegman-software/mapit-go/internal/logger"
)

// DefaultAPIURL is the public OSM API used when no other endpoint is configured
const DefaultAPIURL = "https://www.openstreetmap.org/api/0.6"

// Fetcher downloads single elements from an OSM API endpoint
type Fetcher struct {
	apiURL     string
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
}

// NewFetcher creates a fetcher for apiURL
func NewFetcher(apiURL string) *Fetcher {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Fetcher{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		userAgent:  "mapit-go/1.0",
		maxRetries: 3,
		retryDelay: 5 * time.Second,
	}
}

// WithRetry overrides the retry policy
func (f *Fetcher) WithRetry(maxRetries int, delay time.Duration) *Fetcher {
	f.maxRetries = maxRetries
	f.retryDelay = delay
	return f
}

// URL returns the API URL for an element. Ways and relations are fetched
// with all their members.
func (f *Fetcher) URL(key element.Key) string {
	if key.Type == osm.TypeNode {
		return fmt.Sprintf("%s/node/%d", f.apiURL, key.ID)
	}
	return fmt.Sprintf("%s/%s/%d/full", f.apiURL, key.Type, key.ID)
}

// Fetch downloads an element document. found is false when the API reports
// the element as missing or deleted.
func (f *Fetcher) Fetch(ctx context.Context, key element.Key) (data []byte, found bool, err error) {
	log := logger.Get()
	url := f.URL(key)

	log.Debug("Fetching element", zap.Stringer("key", key), zap.String("url", url))

	resp, err := f.fetchWithRetry(ctx, url)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("unexpected status code fetching %s: %d", key, resp.StatusCode)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, true, nil
}

// fetchWithRetry performs an HTTP GET, retrying transport failures and server errors
func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
