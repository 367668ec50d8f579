package update

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
)

// FakeResponse is a canned reply for FakeFetcher.
type FakeResponse struct {
	Status int
	Body   []byte
	Err    error
}

// FakeFetcher serves canned responses by URL. Unknown URLs get 404.
type FakeFetcher struct {
	mu        sync.Mutex
	responses map[string]FakeResponse
	calls     []string

	// OnRead, when set, runs before every body Read.
	OnRead func()
}

// NewFakeFetcher returns an empty FakeFetcher.
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{responses: make(map[string]FakeResponse)}
}

// Set serves body with status for url.
func (f *FakeFetcher) Set(url string, status int, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = FakeResponse{Status: status, Body: body}
}

// SetError makes requests for url fail with err.
func (f *FakeFetcher) SetError(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = FakeResponse{Err: err}
}

// Get implements Fetcher.
func (f *FakeFetcher) Get(ctx context.Context, url string) (int, io.ReadCloser, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	resp, ok := f.responses[url]
	onRead := f.OnRead
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if !ok {
		return http.StatusNotFound, io.NopCloser(bytes.NewReader(nil)), nil
	}
	if resp.Err != nil {
		return 0, nil, resp.Err
	}
	return resp.Status, &fakeBody{r: bytes.NewReader(resp.Body), onRead: onRead}, nil
}

// Calls returns the requested URLs in order.
func (f *FakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeBody struct {
	r      io.Reader
	onRead func()
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if b.onRead != nil {
		b.onRead()
	}
	return b.r.Read(p)
}

func (b *fakeBody) Close() error { return nil }
