// Package router builds the gateway's net/http mux: WebSocket upgrade and
// path-based fallback-target selection for the tunnel endpoint, plus the
// informational routes. Grounded on original_source/src/lib.rs's route
// table ("/", "/sub", "/link", "/converter", "/checker", "/:proxyip",
// "/Geo-Project/:proxyip") and tunnel_inner's PROXYKV_PATTERN/PROXYIP_PATTERN
// path parsing (country-code list vs. literal `<host>-<port>` override).
package router

import (
	"context"
	"log"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/country"
	"github.com/hoshiyomiX/Beacon/internal/pages"
	"github.com/hoshiyomiX/Beacon/internal/ratelimit"
)

var (
	proxyIPPattern = regexp.MustCompile(`^.+-\d+$`)
	proxyKVPattern = regexp.MustCompile(`^[A-Z]{2}(,[A-Z]{2})*$`)
)

// Session handles one accepted, upgraded WebSocket connection.
type Session func(ctx context.Context, conn *websocket.Conn, cfg config.Config)

// Router wires the HTTP mux.
type Router struct {
	Base      config.Config
	Countries country.Table
	Pages     pages.Routes
	Fetcher   pages.Fetcher
	Upgrader  websocket.Upgrader
	Serve     Session
	Limiter   ratelimit.Limiter
}

// Mux builds the http.ServeMux with every route wired.
func (r *Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handleRoot)
	mux.HandleFunc("/sub", r.handlePage(r.Pages.SubPage))
	mux.HandleFunc("/link", r.handlePage(r.Pages.LinkPage))
	mux.HandleFunc("/converter", r.handlePage(r.Pages.ConverterPage))
	mux.HandleFunc("/checker", r.handlePage(r.Pages.CheckerPage))
	mux.HandleFunc("/Geo-Project/", r.handleTunnel)
	return mux
}

// handleRoot serves the main page for "/" and treats every other single
// path segment as a tunnel request (":proxyip" in the source's router).
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/" {
		if req.Header.Get("Upgrade") == "" {
			pages.Serve(req.Context(), r.Fetcher, w, r.Pages.MainPage)
			return
		}
	}
	r.handleTunnel(w, req)
}

func (r *Router) handlePage(url string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		pages.Serve(req.Context(), r.Fetcher, w, url)
	}
}

// handleTunnel parses the :proxyip path parameter, resolves it to a
// fallback target, upgrades the connection, and hands off to Serve.
func (r *Router) handleTunnel(w http.ResponseWriter, req *http.Request) {
	if strings.ToLower(req.Header.Get("Upgrade")) != "websocket" {
		pages.Serve(req.Context(), r.Fetcher, w, "")
		return
	}

	if r.Limiter != nil {
		key := clientKey(req)
		ok, err := r.Limiter.Allow(req.Context(), key)
		if err == nil && !ok {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	cfg := r.Base.WithRequestHost(req.Host)

	proxyip := strings.Trim(strings.TrimPrefix(req.URL.Path, "/Geo-Project/"), "/")
	if proxyip == "" {
		proxyip = strings.Trim(req.URL.Path, "/")
	}

	if proxyip != "" && proxyKVPattern.MatchString(proxyip) {
		cand, ok := r.resolveProxyIP(proxyip)
		if !ok {
			http.Error(w, "no proxy available for requested country", http.StatusBadRequest)
			return
		}
		proxyip = cand
	}

	if proxyip != "" {
		if proxyIPPattern.MatchString(proxyip) {
			if idx := strings.LastIndex(proxyip, "-"); idx > 0 {
				host := proxyip[:idx]
				if port, err := strconv.ParseUint(proxyip[idx+1:], 10, 16); err == nil {
					cfg = cfg.WithFallback(host, uint16(port))
				}
			}
		}
	}

	conn, err := r.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("[router] websocket upgrade failed: %v", err)
		return
	}

	r.Serve(req.Context(), conn, cfg)
}

// resolveProxyIP resolves a comma-separated country-code list to one
// "host-port" candidate, matching PROXYKV_PATTERN's handling in
// tunnel_inner (random country, then random pool entry, `:`->`-`).
func (r *Router) resolveProxyIP(proxyip string) (string, bool) {
	if !proxyKVPattern.MatchString(proxyip) {
		return "", false
	}
	codes := country.SplitCodes(proxyip)
	entry, err := r.Countries.PickUniform(codes)
	if err != nil {
		return "", false
	}
	return strings.ReplaceAll(net.JoinHostPort(entry.Host, strconv.Itoa(int(entry.Port))), ":", "-"), true
}

func clientKey(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return req.RemoteAddr
}
