package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanpama/fedgate/internal/config"
	"github.com/hanpama/fedgate/internal/ctxlog"
	"github.com/hanpama/fedgate/internal/dispatch"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/executor"
	"github.com/hanpama/fedgate/internal/gateway"
	"github.com/hanpama/fedgate/internal/otel"
	"github.com/hanpama/fedgate/internal/plancache"
	"github.com/hanpama/fedgate/internal/planner"
	"github.com/hanpama/fedgate/internal/schemawatch"
	"github.com/hanpama/fedgate/internal/server"
)

type serveOptions struct {
	listen   string
	logLevel string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if opts.listen != "" {
				cfg.Listen = opts.listen
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "override the listen address")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "override log.level")
	return cmd
}

// gatewayApp is everything serve builds from a config, before listening.
type gatewayApp struct {
	handler http.Handler
	engine  *gateway.Engine
	watcher *schemawatch.Watcher
	closers []func()
}

func (a *gatewayApp) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger, err := ctxlog.New(cfg.Log.Level, cfg.Log.Format, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	ctx = ctxlog.WithLogger(ctx, logger)

	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	shutdownTracing, err := otel.Setup(ctx, bus, cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	app, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if app.watcher != nil {
		go app.watcher.Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("gateway listening",
		zap.String("addr", cfg.Listen),
		zap.String("schema_version", app.engine.Generation().Version),
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+cfg.DrainTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// build wires the pipeline: server > middleware > engine > executor > dispatcher.
func build(cfg *config.Config, logger *zap.Logger) (*gatewayApp, error) {
	app := &gatewayApp{}
	ok := false
	defer func() {
		if !ok {
			app.close()
		}
	}()

	sdl, err := os.ReadFile(cfg.Supergraph)
	if err != nil {
		return nil, fmt.Errorf("read supergraph: %w", err)
	}

	routes, err := buildRoutes(cfg, app)
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(routes, dispatch.Options{
		MaxInFlight:  cfg.MaxInflightFetches,
		DrainTimeout: cfg.DrainTimeout,
	})

	cacheOpts := plancache.Options{Size: cfg.PlanCache.Size, TierTTL: cfg.PlanCache.TTL}
	if cfg.PlanCache.Tier == "memory" {
		tier := plancache.NewMemoryTier(cfg.PlanCache.TTL, time.Minute)
		cacheOpts.Tier = tier
		app.closers = append(app.closers, tier.Close)
	}

	engine, err := gateway.NewEngine(sdl, gateway.Options{
		Planner:   buildPlanner(cfg),
		Fetcher:   dispatcher,
		Executor:  executor.Options{MaxParallelBranches: cfg.MaxParallelBranches},
		PlanCache: cacheOpts,
	})
	if err != nil {
		return nil, err
	}
	app.engine = engine

	if cfg.SchemaPollInterval > 0 {
		app.watcher = schemawatch.New(cfg.Supergraph, cfg.SchemaPollInterval, sdl,
			func(ctx context.Context, sdl []byte) error {
				_, err := engine.Reload(ctx, sdl)
				return err
			})
	}

	serverOpts := []server.Option{
		server.WithTimeout(cfg.RequestTimeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithLogger(logger),
	}
	if cfg.Server.Pretty {
		serverOpts = append(serverOpts, server.WithPretty())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		serverOpts = append(serverOpts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	if len(cfg.Server.ForwardHeaders) > 0 {
		serverOpts = append(serverOpts, server.WithForwardHeaders(cfg.Server.ForwardHeaders...))
	}
	pipeline := gateway.Chain(engine, gateway.Recover(), gateway.AccessLog())
	app.handler = server.New(pipeline, serverOpts...)

	ok = true
	return app, nil
}

func buildRoutes(cfg *config.Config, app *gatewayApp) (dispatch.Routes, error) {
	routes := dispatch.Routes{}
	for _, name := range cfg.SubgraphNames() {
		sg := cfg.Subgraphs[name]
		switch sg.Transport {
		case "grpc":
			t, err := dispatch.NewGRPCTransport(name, sg.URL, dispatch.GRPCOptions{
				MaxConns: sg.MaxConns,
				Metadata: sg.Headers,
			})
			if err != nil {
				return nil, fmt.Errorf("subgraph %s: %w", name, err)
			}
			app.closers = append(app.closers, func() { _ = t.Close() })
			routes[name] = t
		default:
			client := &http.Client{Transport: &http.Transport{
				MaxIdleConnsPerHost: max(sg.MaxConns, 2),
			}}
			routes[name] = dispatch.NewHTTPTransport(sg.URL,
				dispatch.WithHTTPClient(client),
				dispatch.WithHeaders(sg.Headers),
			)
		}
	}
	return routes, nil
}

func buildPlanner(cfg *config.Config) gateway.Planner {
	if cfg.Planner.URL != "" {
		return planner.NewRemote(cfg.Planner.URL, &http.Client{Timeout: cfg.RequestTimeout})
	}
	return planner.NewDirectory(cfg.Planner.Plans)
}
