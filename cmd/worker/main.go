package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/sendlater/internal/backoff"
	"github.com/you/sendlater/internal/config"
	"github.com/you/sendlater/internal/dispatch"
	"github.com/you/sendlater/internal/domain"
	"github.com/you/sendlater/internal/mail"
	"github.com/you/sendlater/internal/storage"
	"github.com/you/sendlater/internal/store"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	jobs := store.NewRedis(rdb)
	if err := jobs.Ping(ctx); err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	messages := storage.New(db)

	transport := mail.NewSMTP(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.SMTPTimeout,
	})

	workerID := workerID()
	policy := backoff.New(cfg.BackoffBase, cfg.BackoffCap, cfg.JitterWindow)
	exec := dispatch.NewExecutor(jobs, messages, transport, policy, workerID, cfg.LeaseDuration, log)

	ch := make(chan *domain.Job, cfg.BatchLimit)
	pool := dispatch.NewPool(exec, ch, cfg.WorkerCount, log)
	pool.Start()

	d := dispatch.NewDispatcher(jobs, ch, dispatch.Options{
		PollInterval:  cfg.PollInterval,
		BatchLimit:    cfg.BatchLimit,
		LeaseDuration: cfg.LeaseDuration,
	}, workerID, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(ctx) })

	err = g.Wait()

	// Drain in-flight sends before exit; anything left keeps its lease and
	// gets reclaimed by another worker.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	pool.Stop(shutdownCtx)

	if err != nil && err != context.Canceled {
		log.Fatal("worker exited", zap.Error(err))
	}
	log.Info("worker stopped")
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
