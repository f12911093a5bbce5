package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AlexKimmel/fluxgate/internal/auth"
	"github.com/AlexKimmel/fluxgate/internal/clock"
	"github.com/AlexKimmel/fluxgate/internal/config"
	"github.com/AlexKimmel/fluxgate/internal/gateway"
	"github.com/AlexKimmel/fluxgate/internal/obs"
	"github.com/AlexKimmel/fluxgate/internal/ratelimit"
	"github.com/AlexKimmel/fluxgate/internal/ratelimit/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Observability.LogLevel = logLevel
		}

		logger := obs.SetupLogger(os.Stderr, cfg.Observability.LogLevel)

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		srv, err := newServer(cfg, logger, reg, clock.System{})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func loadConfig(path string) (*config.Root, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

type server struct {
	cfg     *config.Root
	log     zerolog.Logger
	http    *http.Server
	limiter *ratelimit.Limiter[string]
	sweeper *ratelimit.Sweeper
}

func newStore(c config.Store) store.Store[string] {
	if c.Kind == config.StoreBucketed {
		return store.NewBucketed[string]()
	}
	return store.NewShardedStrings(c.Shards)
}

func newServer(cfg *config.Root, logger zerolog.Logger, reg *prometheus.Registry, clk clock.Clock) (*server, error) {
	metrics := obs.NewMetrics(reg)

	lim, err := ratelimit.NewWithStore[string](cfg.Limits.Config, clk, newStore(cfg.Store),
		ratelimit.WithLogger(logger),
		ratelimit.WithRecorder(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("build limiter: %w", err)
	}

	skip := map[string]struct{}{"/health": {}, "/version": {}}
	skip[cfg.Observability.PrometheusPath] = struct{}{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gateway.Health)
	mux.Handle("GET /version", gateway.Version(Version))
	mux.Handle("GET "+cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("GET /v1/check/{client}", gateway.Check(lim))
	mux.Handle("/", gateway.RateLimit(lim, gateway.RateLimitOptions{
		Skip:              skip,
		AllowOnClockError: cfg.Limits.OnClockError == config.ClockErrorAllow,
		OnLimited: func(key string) {
			logger.Info().Str("client", key).Msg("rate limited")
		},
	})(http.HandlerFunc(gateway.Echo)))

	authStore := auth.FromConfig(cfg.Auth)

	// metrics wraps the mux directly so it sees the matched pattern.
	handler := gateway.Chain(
		metrics.Middleware(skip)(mux),
		obs.Logger(logger),
		authStore.Middleware(skip),
	)

	return &server{
		cfg:  cfg,
		log:  logger,
		http: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.Server.ReadTimeout(),
			WriteTimeout:      cfg.Server.WriteTimeout(),
			IdleTimeout:       cfg.Server.IdleTimeout(),
		},
		limiter: lim,
		sweeper: ratelimit.NewSweeper(lim, cfg.Cleanup.Interval(), cfg.Cleanup.StaleAfter(), logger),
	}, nil
}

// run serves until ctx is done, then shuts down gracefully.
func (s *server) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *server) serve(ctx context.Context, ln net.Listener) error {
	s.sweeper.Start(ctx)
	defer s.sweeper.Stop()

	errc := make(chan error, 1)
	go func() {
		s.log.Info().
			Str("addr", ln.Addr().String()).
			Float64("rate_per_second", s.limiter.Rate()).
			Float64("burst", s.limiter.Burst()).
			Str("store", s.cfg.Store.Kind).
			Msg("listening")
		errc <- s.http.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	<-errc
	s.log.Info().Msg("bye")
	return nil
}
