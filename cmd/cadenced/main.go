// Command cadenced runs the scheduler with its HTTP admin API.
//
// Usage:
//
//	cadenced -config cadence.yaml
//
// CADENCE_STORE_DRIVER, CADENCE_STORE_DSN and CADENCE_HTTP_ADDR override the
// file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/api"
	"github.com/xraph/cadence/engine"
	"github.com/xraph/cadence/notify"
	"github.com/xraph/cadence/store"
	"github.com/xraph/cadence/store/memory"
	"github.com/xraph/cadence/store/postgres"
	"github.com/xraph/cadence/store/redis"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cadenced: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, rdb, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	sc := cfg.schedulerConfig()
	s, err := cadence.New(
		cadence.WithConfig(sc),
		cadence.WithStore(st),
		cadence.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var opts []engine.Option
	if n := newNotifier(cfg, rdb, logger); n != nil {
		opts = append(opts, engine.WithNotifier(n))
	}
	eng, err := engine.Build(s, opts...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(eng, api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		return errors.Join(httpErr, eng.Stop(shutdownCtx))
	})
	return g.Wait()
}

// openStore builds the configured backend. The Redis client is returned
// so the notifier can share it.
func openStore(ctx context.Context, cfg *fileConfig, logger *slog.Logger) (store.Store, goredis.UniversalClient, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	case "redis":
		opt, err := goredis.ParseURL(cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis dsn: %w", err)
		}
		client := goredis.NewClient(opt)
		ropts := []redis.Option{redis.WithLogger(logger)}
		if cfg.Store.Prefix != "" {
			ropts = append(ropts, redis.WithPrefix(cfg.Store.Prefix))
		}
		st := redis.New(client, ropts...)
		if err := st.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return st, client, nil
	default:
		logger.Warn("using in-memory store; jobs and history are lost on exit")
		return memory.New(), nil, nil
	}
}

func newNotifier(cfg *fileConfig, rdb goredis.UniversalClient, logger *slog.Logger) *notify.Notifier {
	var t notify.Transport
	switch cfg.Notify.Transport {
	case "":
		return nil
	case "redis":
		if rdb == nil {
			logger.Warn("notify transport redis needs the redis store driver; notifications disabled")
			return nil
		}
		t = notify.NewRedisTransport(rdb, cfg.Notify.Channel)
	default:
		t = notify.NewLogTransport(logger)
	}
	opts := []notify.Option{notify.WithLogger(logger)}
	if len(cfg.Notify.Events) > 0 {
		opts = append(opts, notify.WithEvents(cfg.Notify.Events...))
	}
	return notify.New(t, opts...)
}
