package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialgraph/config"
	"github.com/d60-Lab/socialgraph/internal/api"
	"github.com/d60-Lab/socialgraph/internal/api/handler"
	"github.com/d60-Lab/socialgraph/internal/event"
	"github.com/d60-Lab/socialgraph/internal/graph"
	graphdb "github.com/d60-Lab/socialgraph/internal/graph/database"
	"github.com/d60-Lab/socialgraph/internal/graph/redisb"
	"github.com/d60-Lab/socialgraph/internal/model"
	"github.com/d60-Lab/socialgraph/internal/registry"
	"github.com/d60-Lab/socialgraph/internal/service"
	"github.com/d60-Lab/socialgraph/internal/timeline"
	"github.com/d60-Lab/socialgraph/internal/uid"
	"github.com/d60-Lab/socialgraph/pkg/database"
	"github.com/d60-Lab/socialgraph/pkg/logger"
	"github.com/d60-Lab/socialgraph/pkg/redisclient"
	"github.com/d60-Lab/socialgraph/pkg/tracing"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func main() {
	cfg := must(config.Load())
	if err := logger.Init(cfg.Log.Level); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown := must(tracing.Init(context.Background(), cfg.Telemetry.OTLPEndpoint, "socialgraph"))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("shutdown tracing", zap.Error(err))
			}
		}()
	}
	if cfg.Telemetry.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Telemetry.SentryDSN}); err != nil {
			panic(err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	db := must(database.InitDB(cfg))
	if err := graphdb.Migrate(db); err != nil {
		panic(err)
	}
	if err := db.AutoMigrate(&model.User{}); err != nil {
		panic(err)
	}
	client := must(redisclient.Init(cfg))

	reg := registry.New()
	if err := reg.Register(model.NewUserSource(db)); err != nil {
		panic(err)
	}

	instances := uid.NewManager(client, cfg.Redis.Prefix, reg)
	actions := uid.NewManager(client, cfg.Redis.Prefix+":timeline", reg)

	var backend graph.Backend
	switch cfg.Timeline.Backend {
	case "redis":
		backend = must(redisb.New(client, instances))
	default:
		backend = must(graphdb.New(db))
	}
	friends := graph.NewFriends(backend)

	worker := timeline.NewWorker(cfg.Timeline.QueueSize, cfg.Timeline.FanoutPageSize, 0)
	engine := must(timeline.NewEngine(client, instances, actions, backend, timeline.Options{
		PageSize: cfg.Timeline.FanoutPageSize,
	}))
	engine.SetDispatcher(worker)
	worker.Attach(engine)
	stopWorker := worker.Start(cfg.Timeline.Workers)

	bus := event.NewBus()
	// Every new edge becomes a "follow" action on the follower's own
	// timeline, which fans out to their followers in turn, and the new
	// followee's history is back-filled into the follower's timeline.
	bus.OnFollowed(func(from, to registry.Ref) {
		a := timeline.NewAction(from, "follow", time.Time{}).WithTarget(to)
		if err := engine.Timeline(from).Save(context.Background(), a); err != nil {
			logger.Warn("record follow activity", zap.Error(err))
		}
		worker.EnqueueImport(from, to)
	})
	// Unfollowing reverses the fan-out: the ex-followee's actions leave
	// the unfollower's timeline.
	bus.OnUnfollowed(func(from, to registry.Ref) {
		worker.EnqueueRemoval(from, to)
	})

	svc := service.NewFollowService(backend, bus)
	h := handler.New(svc, friends, engine, reg)
	router := api.NewRouter(h, cfg.Server.Mode)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	if err := stopWorker(shutdownCtx); err != nil {
		logger.Error("stop fanout worker", zap.Error(err))
	}
}
