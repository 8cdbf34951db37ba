package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"smlgpt/internal/api"
	"smlgpt/internal/objectstore"
	"smlgpt/internal/realtime"
	"smlgpt/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the realtime hub and, unless disabled, the file worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		cfg := a.cfg
		log := a.log
		if !cfg.Development() {
			gin.SetMode(gin.ReleaseMode)
		}

		hub := realtime.NewHub(func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == cfg.Server.CORSOrigin
		})
		defer hub.Close()

		g, gctx := errgroup.WithContext(ctx)

		var publisher realtime.Publisher = hub
		if a.redis != nil {
			publisher = realtime.NewRedisPublisher(a.redis)
			bridge := realtime.NewBridge(a.redis, hub)
			g.Go(func() error { return bridge.Run(gctx) })
		}

		var dispatcher *worker.Dispatcher
		if cfg.WorkerEnabled() {
			dispatcher = a.dispatcher(publisher)
			dispatcher.Start(gctx)
			log.Infow("file worker started", "concurrency", cfg.Queue.Concurrency)
		}

		var limiter api.Limiter
		if a.redis != nil {
			limiter = api.NewRedisLimiter(a.redis, cfg.RateLimitWindow(), cfg.Server.RateLimitMax)
		} else {
			limiter = api.NewMemoryLimiter(cfg.RateLimitWindow(), cfg.Server.RateLimitMax)
		}

		checks := make([]api.HealthChecker, 0, 10)
		for _, c := range a.gateway.Capabilities() {
			checks = append(checks, api.CapabilityCheck(c))
		}
		var redisPing func(context.Context) error
		if a.redis != nil {
			redisPing = a.redis.Ping
		}
		checks = append(checks,
			api.CheckFunc("storage", a.objects.Ping),
			api.CheckFunc("redis", redisPing),
			api.CheckFunc("queue", func(ctx context.Context) error {
				_, err := a.queue.Counts(ctx)
				return err
			}),
		)

		var files api.BlobServer
		if mem, ok := a.objects.(*objectstore.MemoryStore); ok {
			files = mem
		}

		gw := a.gateway
		handler := api.NewHandler(api.Deps{
			Registry:    a.registry,
			Objects:     a.objects,
			Queue:       a.queue,
			Chat:        gw.Chat,
			Documents:   gw.Documents,
			Search:      gw.Search,
			Embeddings:  gw.Embeddings,
			Speech:      gw.Speech,
			Checks:      checks,
			Realtime:    hub,
			Limiter:     limiter,
			Files:       files,
			Development: cfg.Development(),
			CORSOrigin:  cfg.Server.CORSOrigin,
		})

		server := &http.Server{Addr: cfg.Server.Address, Handler: handler.NewRouter()}
		g.Go(func() error {
			log.Infow("server listening", "address", cfg.Server.Address, "env", cfg.Server.Env)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down")
			shutdownCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warnw("server shutdown", "error", err)
			}
			if dispatcher != nil {
				dispatcher.Stop()
			}
			return nil
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
