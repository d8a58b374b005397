// Command beacon-gateway runs the WebSocket-to-TCP multiplexing proxy
// gateway: it accepts VLESS, VMess, Trojan, and Shadowsocks client
// requests tunnelled over WebSocket (or, optionally, raw RFC 6455
// framing over an HTTP/3 extended-CONNECT stream) and relays them to a
// dialed TCP target. Grounded on the teacher's cmd/h3ws2h1ws-proxy/
// main.go + internal/run.go wiring idiom, replacing its flag-based CLI
// with cobra per the teacher's declared but unwired dependency.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/country"
	"github.com/hoshiyomiX/Beacon/internal/doh"
	"github.com/hoshiyomiX/Beacon/internal/h3ingress"
	"github.com/hoshiyomiX/Beacon/internal/pages"
	"github.com/hoshiyomiX/Beacon/internal/ratelimit"
	"github.com/hoshiyomiX/Beacon/internal/router"
	"github.com/hoshiyomiX/Beacon/internal/session"
	"github.com/hoshiyomiX/Beacon/internal/wsstream"
)

type cliFlags struct {
	listenAddr string

	h3ListenAddr string
	certFile     string
	keyFile      string

	metricsAddr string

	uuidStr    string
	strictUUID bool

	fallbackHost string
	fallbackPort uint16

	countriesFile string

	dohEndpoint string
	dohTimeout  time.Duration

	ratelimitRPS   float64
	ratelimitBurst int
	redisAddr      string
	redisWindow    time.Duration
	redisMax       int64

	mainPage      string
	subPage       string
	linkPage      string
	converterPage string
	checkerPage   string
}

func main() {
	var f cliFlags

	root := &cobra.Command{
		Use:   "beacon-gateway",
		Short: "WebSocket/HTTP3-to-TCP multiplexing proxy gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	flags := root.Flags()
	flags.StringVar(&f.listenAddr, "listen", ":8080", "TCP listen addr for the primary WebSocket ingress")
	flags.StringVar(&f.h3ListenAddr, "h3-listen", "", "UDP listen addr for the alternate HTTP/3 ingress (empty disables it)")
	flags.StringVar(&f.certFile, "cert", "cert.pem", "TLS cert PEM for the HTTP/3 ingress")
	flags.StringVar(&f.keyFile, "key", "key.pem", "TLS key PEM for the HTTP/3 ingress")
	flags.StringVar(&f.metricsAddr, "metrics", "", "TCP addr for Prometheus /metrics (empty disables the metrics server)")
	flags.StringVar(&f.uuidStr, "uuid", "", "expected VLESS/VMess user id (required)")
	flags.BoolVar(&f.strictUUID, "strict-uuid", false, "reject VLESS requests whose embedded user id mismatches --uuid")
	flags.StringVar(&f.fallbackHost, "fallback-host", "", "default fallback target host when no path override is present")
	flags.Uint16Var(&f.fallbackPort, "fallback-port", 443, "default fallback target port")
	flags.StringVar(&f.countriesFile, "countries-file", "", "path to a JSON {code: [\"host:port\", ...]} country->pool table")
	flags.StringVar(&f.dohEndpoint, "doh-endpoint", "https://cloudflare-dns.com/dns-query", "DNS-over-HTTPS endpoint for the UDP path")
	flags.DurationVar(&f.dohTimeout, "doh-timeout", 4*time.Second, "DNS-over-HTTPS round-trip timeout")
	flags.Float64Var(&f.ratelimitRPS, "ratelimit-rps", 0, "per-client sessions/sec (0 disables local rate limiting)")
	flags.IntVar(&f.ratelimitBurst, "ratelimit-burst", 5, "per-client burst capacity for the local rate limiter")
	flags.StringVar(&f.redisAddr, "redis-addr", "", "Redis addr for the distributed rate limiter (overrides --ratelimit-rps)")
	flags.DurationVar(&f.redisWindow, "redis-window", time.Minute, "Redis rate limiter fixed-window duration")
	flags.Int64Var(&f.redisMax, "redis-max", 120, "Redis rate limiter max requests per window")
	flags.StringVar(&f.mainPage, "page-main", "", "URL fetched for the main landing page")
	flags.StringVar(&f.subPage, "page-sub", "", "URL fetched for the /sub route")
	flags.StringVar(&f.linkPage, "page-link", "", "URL fetched for the /link route")
	flags.StringVar(&f.converterPage, "page-converter", "", "URL fetched for the /converter route")
	flags.StringVar(&f.checkerPage, "page-checker", "", "URL fetched for the /checker route")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, f cliFlags) error {
	if f.uuidStr == "" {
		return errors.New("beacon-gateway: --uuid is required")
	}
	userID, err := config.ParseUUID(f.uuidStr)
	if err != nil {
		return fmt.Errorf("beacon-gateway: %w", err)
	}

	countries, err := loadCountries(f.countriesFile)
	if err != nil {
		return fmt.Errorf("beacon-gateway: --countries-file: %w", err)
	}

	cfg := config.Config{
		UUID:         userID,
		StrictUUID:   f.strictUUID,
		FallbackHost: f.fallbackHost,
		FallbackPort: f.fallbackPort,
		Countries:    countries,
		Limits:       config.DefaultLimits(),
	}

	if f.metricsAddr != "" {
		startMetricsServer(f.metricsAddr)
	} else {
		log.Printf("metrics disabled (use --metrics to enable)")
	}

	resolver := doh.NewResolver(f.dohEndpoint, f.dohTimeout)
	driver := session.Driver{Config: cfg, Resolver: resolver}

	serveWS := func(ctx context.Context, conn *websocket.Conn, sessCfg config.Config) {
		s := wsstream.New(conn, sessCfg.Limits, conn.RemoteAddr().String())
		sessDriver := driver
		sessDriver.Config = sessCfg
		if err := sessDriver.Run(ctx, s); err != nil {
			log.Printf("[beacon-gateway] session error: %v", err)
		}
	}

	r := &router.Router{
		Base:      cfg,
		Countries: country.New(countries),
		Pages: pages.Routes{
			MainPage:      f.mainPage,
			SubPage:       f.subPage,
			LinkPage:      f.linkPage,
			ConverterPage: f.converterPage,
			CheckerPage:   f.checkerPage,
		},
		Fetcher:  pages.NewHTTPFetcher(5 * time.Second),
		Upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		Serve:    serveWS,
		Limiter:  buildLimiter(f),
	}

	srv := &http.Server{
		Addr:              f.listenAddr,
		Handler:           r.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("beacon-gateway: WebSocket ingress listening on %s", f.listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ws listener: %w", err)
		}
	}()

	var h3srv *http3.Server
	if f.h3ListenAddr != "" {
		h3Handler := &h3ingress.Handler{
			Limits:   cfg.Limits,
			MaxConns: 2000,
			Serve: func(ctx context.Context, s *h3ingress.Stream) error {
				return driver.Run(ctx, s)
			},
		}
		h3srv = &http3.Server{
			Addr:       f.h3ListenAddr,
			Handler:    h3Handler,
			TLSConfig:  config.DefaultTLSConfig(),
			QUICConfig: &quic.Config{MaxIdleTimeout: 60 * time.Second, KeepAlivePeriod: 20 * time.Second},
		}
		go func() {
			log.Printf("beacon-gateway: HTTP/3 ingress listening on udp %s", f.h3ListenAddr)
			if err := h3srv.ListenAndServeTLS(f.certFile, f.keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("h3 listener: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Printf("beacon-gateway: shutting down")
	case err := <-errCh:
		log.Printf("beacon-gateway: listener error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if h3srv != nil {
		_ = h3srv.Close()
	}
	return nil
}

func buildLimiter(f cliFlags) ratelimit.Limiter {
	if f.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: f.redisAddr})
		return ratelimit.NewRedis(client, f.redisWindow, f.redisMax)
	}
	if f.ratelimitRPS > 0 {
		return ratelimit.NewLocal(f.ratelimitRPS, f.ratelimitBurst)
	}
	return nil
}

func loadCountries(path string) (map[string][]config.CountryEntry, error) {
	if path == "" {
		return map[string][]config.CountryEntry{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.CountryTableFromJSON(string(data))
}

func startMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Printf("metrics listening on http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()
}
