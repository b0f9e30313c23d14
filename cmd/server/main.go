package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/revealcast/config"
	revhttp "github.com/lvdashuaibi/revealcast/internal/api/http"
	"github.com/lvdashuaibi/revealcast/internal/archive"
	"github.com/lvdashuaibi/revealcast/internal/broadcast"
	"github.com/lvdashuaibi/revealcast/internal/cachestore"
	"github.com/lvdashuaibi/revealcast/internal/chatengine"
	"github.com/lvdashuaibi/revealcast/internal/leader"
	"github.com/lvdashuaibi/revealcast/internal/lifecycle"
	"github.com/lvdashuaibi/revealcast/internal/publish"
	"github.com/lvdashuaibi/revealcast/internal/publish/hub"
	"github.com/lvdashuaibi/revealcast/internal/publish/kafkarelay"
	"github.com/lvdashuaibi/revealcast/internal/ratelimit"
	"github.com/lvdashuaibi/revealcast/internal/registry"
	"github.com/lvdashuaibi/revealcast/internal/repository"
	"github.com/lvdashuaibi/revealcast/internal/voteengine"
)

var configPath = flag.String("config", "config/config.yaml", "path to the configuration file")

const reconcileInterval = 60 * time.Second

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	store, err := cachestore.NewRedisStore(cfg.Redis)
	if err != nil {
		logger.Fatal("init cache store failed", zap.Error(err))
	}
	defer store.Close()
	logger.Info("cache store connected")

	archiveSink, err := archive.NewSink(cfg.MySQL)
	if err != nil {
		logger.Fatal("init archive sink failed", zap.Error(err))
	}
	defer archiveSink.Close()
	logger.Info("archive sink connected")

	repo := repository.New(store, logger, cfg.SessionTTL(), cfg.PostRevealTTL())
	limiter := ratelimit.New(store, time.Second)
	reg := registry.New(repo, logger)

	replicaID := uuid.NewString()
	logger.Info("replica id assigned", zap.String("replicaId", replicaID))

	localHub := hub.New()
	relay := kafkarelay.NewRelay(cfg.Kafka, replicaID)
	defer relay.Close()
	relayConsumer := kafkarelay.NewConsumer(cfg.Kafka, replicaID, logger)
	defer relayConsumer.Close()

	publisher := publish.Multi{localHub, relay}

	votes := voteengine.New(repo, limiter, publisher, logger)
	chat := chatengine.New(repo, limiter, publisher, logger, cfg.Name.MaxLength, cfg.Chat.MaxLength)

	lifecycleCtrl := lifecycle.New(repo, reg, publisher, archiveSink, logger, nil)
	broadcastSched := broadcast.New(repo, reg, publisher, logger)

	lockBackend, err := newLeaderLock(cfg.Leader)
	if err != nil {
		logger.Fatal("init leader lock failed", zap.Error(err))
	}
	defer lockBackend.Close()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	elector := leader.Run(rootCtx, lockBackend, logger, cfg.Leader.AcquireTTL)
	go relayConsumer.Run(rootCtx, localHub)

	go runSchedulers(rootCtx, logger, elector, repo, reg, lifecycleCtrl, broadcastSched, cfg.BroadcastInterval())

	server := revhttp.NewServer(revhttp.Config{
		Repo:           repo,
		Archive:        archiveSink,
		Registry:       reg,
		Votes:          votes,
		Chat:           chat,
		Hub:            localHub,
		Log:            logger,
		BaseURL:        cfg.BaseURL,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	router := server.Router()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("http server listening", zap.String("addr", addr))
		if err := router.Run(addr); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	cancel()
}

// runSchedulers drives the three periodic loops, each gated on holding
// the scheduler lock so only one replica performs cache writes (§9
// "Multi-replica operation"). Each loop runs in its own goroutine so a
// slow lifecycle tick (a network round trip per active session) never
// delays the broadcast or reconcile ticks from firing (§5: these tasks
// must not block each other). Each loop still serializes against itself
// through its own ticker channel.
func runSchedulers(
	ctx context.Context,
	log *zap.Logger,
	elector *leader.Elector,
	repo *repository.Repository,
	reg *registry.Registry,
	lifecycleCtrl *lifecycle.Controller,
	broadcastSched *broadcast.Scheduler,
	broadcastInterval time.Duration,
) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if elector.IsLeader() {
					lifecycleCtrl.Tick(ctx)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(broadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if elector.IsLeader() {
					broadcastSched.Tick(ctx)
				}
			}
		}
	}()

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if elector.IsLeader() {
				if err := reg.Reconcile(ctx); err != nil {
					log.Warn("registry reconcile failed", zap.Error(err))
				}
			}
		}
	}
}

func newLeaderLock(cfg config.LeaderConfig) (leader.Lock, error) {
	if cfg.Backend == "redis" {
		return leader.NewRedlock(cfg.Redis)
	}
	return leader.NewEtcd(cfg.Etcd)
}
