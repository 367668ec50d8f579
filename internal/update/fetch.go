package update

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Timeouts bounding every remote call.
const (
	ManifestTimeout = 10 * time.Second
	DownloadTimeout = 30 * time.Second
)

// Fetcher retrieves a remote resource. The caller must close body when err
// is nil. ctx bounds the whole exchange including reading body.
type Fetcher interface {
	Get(ctx context.Context, url string) (status int, body io.ReadCloser, err error)
}

// HTTPFetcher is a Fetcher backed by net/http.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher returns a fetcher identifying itself as userAgent.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   ManifestTimeout,
				ResponseHeaderTimeout: ManifestTimeout,
				IdleConnTimeout:       30 * time.Second,
				MaxIdleConns:          2,
			},
		},
		userAgent: userAgent,
	}
}

// Get issues a GET for url.
func (f *HTTPFetcher) Get(ctx context.Context, url string) (int, io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, resp.Body, nil
}
