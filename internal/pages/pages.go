// Package pages serves the gateway's informational routes (home, sub,
// link, converter, checker) by fetching a configured static page URL for
// each, matching original_source/src/lib.rs's fe/sub/link/converter/
// checker handlers (each calls get_response_from_url(cx.data.*_page_url)).
package pages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher is the narrow external-collaborator interface this package
// exposes to the router (spec.md §1's "static HTML pages fetched for
// informational routes" is explicitly out of core scope).
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches a page over plain HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher with the given timeout.
func NewHTTPFetcher(timeout time.Duration) HTTPFetcher {
	return HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pages: upstream %s returned %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Routes is the configured URL for each informational page.
type Routes struct {
	MainPage      string
	SubPage       string
	LinkPage      string
	ConverterPage string
	CheckerPage   string
}

// placeholderHTML is served in place of a fetched page when no upstream
// URL is configured for the route, so a bare gateway (no --page-* flags)
// still answers non-WebSocket requests with 200 instead of 502.
const placeholderHTML = `<!DOCTYPE html>
<html>
<head><title>Beacon</title></head>
<body>
<p>This gateway has no page configured for this route.</p>
</body>
</html>
`

// Serve fetches url through f and writes it as an HTML response body. An
// unconfigured url (the CLI flags default to "") is not an upstream
// failure: it serves the in-memory placeholder with a 200, matching
// spec.md §6's "non-WebSocket requests to the same path return a 200
// HTML placeholder."
func Serve(ctx context.Context, f Fetcher, w http.ResponseWriter, url string) {
	if url == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, placeholderHTML)
		return
	}
	body, err := f.Fetch(ctx, url)
	if err != nil {
		http.Error(w, "upstream page unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}
