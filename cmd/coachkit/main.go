package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	modbilling "github.com/dmitrymomot/coachkit/modules/billing"
	"github.com/dmitrymomot/coachkit/pkg/billing"
	"github.com/dmitrymomot/coachkit/pkg/billing/pgstore"
	"github.com/dmitrymomot/coachkit/pkg/config"
	"github.com/dmitrymomot/coachkit/pkg/httpserver"
	"github.com/dmitrymomot/coachkit/pkg/logger"
	"github.com/dmitrymomot/coachkit/pkg/pg"
	"github.com/dmitrymomot/coachkit/pkg/redis"
	"github.com/dmitrymomot/coachkit/pkg/requestid"
)

type appConfig struct {
	Env            string        `env:"APP_ENV" envDefault:"development"`
	Name           string        `env:"APP_NAME" envDefault:"coachkit"`
	HealthTimeout  time.Duration `env:"APP_HEALTH_TIMEOUT" envDefault:"2s"`
	StartupTimeout time.Duration `env:"APP_STARTUP_TIMEOUT" envDefault:"1m"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("coachkit stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		app       appConfig
		pgCfg     pg.Config
		redisCfg  redis.Config
		httpCfg   httpserver.Config
		stripeCfg billing.StripeConfig
		billCfg   billing.Config
	)
	if err := errors.Join(
		config.Load(&app),
		config.Load(&pgCfg),
		config.Load(&redisCfg),
		config.Load(&httpCfg),
		config.Load(&stripeCfg),
		config.Load(&billCfg),
	); err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	pricing, err := billing.LoadPricing(billCfg.PricingFile)
	if err != nil {
		return err
	}

	pool, rdb, err := connect(ctx, app.StartupTimeout, pgCfg, redisCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer rdb.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, pgstore.Migrations(), log); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []billing.Option{
		billing.WithLogger(log.With(logger.Component("billing"))),
		billing.WithMetrics(billing.NewMetrics(reg)),
		billing.WithDeduper(billing.NewRedisDeduper(rdb, billCfg.DedupeTTL)),
		billing.WithMaxWriteAttempts(billCfg.MaxWriteAttempts),
	}
	stripeProvider, err := billing.NewStripeProvider(stripeCfg, opts...)
	if err != nil {
		return err
	}
	svc := billing.NewService(stripeProvider, stripeProvider, pgstore.New(pool), pricing, opts...)

	r := chi.NewRouter()
	r.Use(requestid.Middleware, middleware.RealIP, middleware.Recoverer)
	r.Get("/healthz", httpserver.HealthHandler(log, app.HealthTimeout, map[string]httpserver.Check{
		"postgres": pg.Healthcheck(pool),
		"redis":    redis.Healthcheck(rdb),
	}))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount("/billing", modbilling.Router(modbilling.RouterOptions{
		Service:  svc,
		Identity: modbilling.HeaderIdentity(),
		Logger:   log,
	}))

	return httpserver.New(httpCfg, httpserver.WithLogger(log)).Run(ctx, r)
}

// connect opens Postgres and Redis concurrently.
func connect(ctx context.Context, timeout time.Duration, pgCfg pg.Config, redisCfg redis.Config) (*pgxpool.Pool, *goredis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		pool *pgxpool.Pool
		rdb  *goredis.Client
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		pool, err = pg.Connect(gctx, pgCfg)
		return err
	})
	g.Go(func() (err error) {
		rdb, err = redis.Connect(gctx, redisCfg)
		return err
	})
	if err := g.Wait(); err != nil {
		if pool != nil {
			pool.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, nil, fmt.Errorf("connect dependencies: %w", err)
	}
	return pool, rdb, nil
}
