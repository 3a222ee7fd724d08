// Package server wires the client components from configuration: catalog
// cache, event publishing, metrics and the optional health/metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/opcatalog/internal/config"
	"github.com/morezero/opcatalog/pkg/apierr"
	"github.com/morezero/opcatalog/pkg/apiurl"
	"github.com/morezero/opcatalog/pkg/catalogcache"
	"github.com/morezero/opcatalog/pkg/commsutil"
	"github.com/morezero/opcatalog/pkg/dispatcher"
	"github.com/morezero/opcatalog/pkg/endpoints"
	"github.com/morezero/opcatalog/pkg/events"
	"github.com/morezero/opcatalog/pkg/metrics"
	"github.com/morezero/opcatalog/pkg/operation"
)

const logPrefix = "server:server"

// Server holds the components shared by every operation client.
type Server struct {
	cfg        *config.Config
	httpClient *http.Client
	prefixes   endpoints.Prefixes
	endpoints  *endpoints.Set
	lister     apiurl.Lister
	redis      *catalogcache.RedisStore
	nc         *comms.Conn
	publisher  events.EventPublisher
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	httpServer *http.Server
}

// SetupLogging installs the default slog logger at the configured level.
func SetupLogging(cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

// New builds the components described by cfg. Optional backends (Redis,
// COMMS) are connected only when configured; failing to reach one is an error.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		registry:   prometheus.NewRegistry(),
		publisher:  &events.NoOpPublisher{},
	}
	s.registry.MustRegister(collectors.NewGoCollector())

	var err error
	if s.metrics, err = metrics.New(s.registry); err != nil {
		return nil, fmt.Errorf("%s - failed to register metrics: %w", logPrefix, err)
	}
	if s.prefixes, err = cfg.Prefixes(); err != nil {
		return nil, err
	}

	manifest, err := endpoints.Load(cfg.EndpointsFile)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load endpoints: %w", logPrefix, err)
	}
	s.endpoints = endpoints.NewSet(manifest)

	s.lister = &apiurl.HTTPLister{Client: s.httpClient, Metrics: s.metrics}
	if cfg.RedisURL != "" || cfg.CacheTTL > 0 {
		var store catalogcache.Store
		if cfg.RedisURL != "" {
			s.redis, err = catalogcache.NewRedisStore(ctx, cfg.RedisURL)
			if err != nil {
				return nil, err
			}
			store = s.redis
		}
		s.lister = catalogcache.New(s.lister, store, cfg.CacheTTL)
		slog.Info(fmt.Sprintf("%s - Catalog cache enabled (ttl=%s, redis=%t)", logPrefix, cfg.CacheTTL, s.redis != nil))
	}

	if cfg.COMMSURL != "" {
		s.nc, err = commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.publisher = events.NewCommsPublisher(s.nc, &events.CommsPublisherOpts{GlobalSubject: cfg.EventSubject})
		slog.Info(fmt.Sprintf("%s - Publishing invocation events to %s", logPrefix, cfg.COMMSURL))
	}

	return s, nil
}

// Endpoints returns the known endpoints.
func (s *Server) Endpoints() *endpoints.Set {
	return s.endpoints
}

// Prefixes returns the configured catalog roots.
func (s *Server) Prefixes() endpoints.Prefixes {
	return s.prefixes
}

// Lister returns the catalog lister, cached when configured.
func (s *Server) Lister() apiurl.Lister {
	return s.lister
}

// Options returns the client options shared by every operation client.
func (s *Server) Options() []operation.Option {
	return []operation.Option{
		operation.WithHTTPClient(s.httpClient),
		operation.WithLister(s.lister),
		operation.WithPublisher(s.publisher),
		operation.WithMetrics(s.metrics),
		operation.WithRateLimit(s.cfg.RateLimit, s.cfg.RateBurst),
	}
}

// Client binds a client to ref: an endpoint name or alias, a
// "<catalog>:<path>" pair, or an address under one of the catalog roots.
func (s *Server) Client(ref string) (*operation.Client, error) {
	if _, _, ok := s.endpoints.Lookup(ref); ok {
		return s.endpoints.Client(ref, s.prefixes, s.Options()...)
	}
	if catalog, p, ok := strings.Cut(ref, ":"); ok {
		if prefix, ok := s.prefixes[catalog]; ok {
			return operation.New(p, prefix, s.Options()...)
		}
	}
	prefix, err := s.MatchPrefix(ref)
	if err != nil {
		return nil, err
	}
	return operation.New(ref, prefix, s.Options()...)
}

// MatchPrefix returns the catalog root that contains ref.
func (s *Server) MatchPrefix(ref string) (apiurl.Prefix, error) {
	for _, name := range []string{apiurl.CatalogServices, apiurl.CatalogWeb, apiurl.CatalogScripts} {
		prefix, ok := s.prefixes[name]
		if !ok {
			continue
		}
		if _, err := apiurl.New(ref, prefix); err == nil {
			return prefix, nil
		}
	}
	return apiurl.Prefix{}, apierr.Address("%q is not under any catalog root", ref)
}

// CatalogURL resolves "<catalog>[:<path>]" to the URL of a catalog listing.
func (s *Server) CatalogURL(ref string) (*url.URL, error) {
	catalog, p, _ := strings.Cut(ref, ":")
	prefix, ok := s.prefixes[catalog]
	if !ok {
		return nil, apierr.Address("unknown catalog %q", catalog)
	}
	if p == "" {
		u := prefix.Base()
		u.Path = strings.TrimSuffix(u.Path, "/")
		return u, nil
	}
	a, err := apiurl.New(p, prefix)
	if err != nil {
		return nil, err
	}
	u := a.URL()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// Handler serves /metrics, /health and /ready.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		checks := s.health(ctx)
		status := "healthy"
		for _, ok := range checks {
			if !ok {
				status = "unhealthy"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": checks})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	return r
}

func (s *Server) health(ctx context.Context) map[string]bool {
	checks := map[string]bool{}
	if s.redis != nil {
		checks["redis"] = s.redis.Ping(ctx) == nil
	}
	if s.nc != nil {
		checks["comms"] = s.nc.IsConnected()
	}
	return checks
}

// StartHTTP serves Handler on METRICS_ADDR in the background. It is a no-op
// when no address is configured.
func (s *Server) StartHTTP() {
	if s.cfg.MetricsAddr == "" {
		return
	}
	s.httpServer = &http.Server{Addr: s.cfg.MetricsAddr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - Metrics server listening on %s", logPrefix, s.cfg.MetricsAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()
}

// ServeBridge answers COMMS requests for catalog operations until ctx is
// done. It requires COMMS_URL.
func (s *Server) ServeBridge(ctx context.Context) error {
	if s.nc == nil {
		return fmt.Errorf("%s - COMMS_URL is required for the bridge", logPrefix)
	}
	subject := s.cfg.BridgeSubject
	if subject == "" {
		subject = commsutil.SubjectInvoke
	}
	sub, err := dispatcher.Subscribe(s.nc, subject, dispatcher.NewDispatcher(s), s.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Bridge is ready", logPrefix))

	<-ctx.Done()
	slog.Info(fmt.Sprintf("%s - Shutting down bridge", logPrefix))
	return sub.Unsubscribe()
}

// Close releases every connected backend.
func (s *Server) Close(ctx context.Context) {
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}
	if s.nc != nil {
		_ = s.nc.Drain()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	slog.Debug(fmt.Sprintf("%s - Shutdown complete", logPrefix))
}
