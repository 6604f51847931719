package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"livepoll/internal/api"
	"livepoll/internal/chat"
	"livepoll/internal/event"
	"livepoll/internal/hub"
	"livepoll/internal/ledger"
	"livepoll/internal/metrics"
	"livepoll/internal/poll"
	"livepoll/internal/roster"
	"livepoll/internal/store/memory"
	"livepoll/internal/store/postgres"
	"livepoll/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	// Storage selects where polls and votes live: "postgres" or "memory".
	// Memory is for local runs and tests only.
	Storage struct {
		Driver string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Redis struct {
		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Timer struct {
		Interval time.Duration
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		polls  *poll.Service
		ledger *ledger.Service
		chat   *chat.Service
		roster *roster.Service
	}

	hub *hub.Hub

	http      *http.Server
	hubCancel context.CancelFunc
	hubDone   chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	metrics.Observe(s.eb)
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	if len(s.c.Redis.Pubsub.Addrs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Pubsub.Addrs,
		Password: s.c.Redis.Pubsub.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	if s.c.Storage.Driver != "postgres" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	if err := postgres.CreateSchema(ctx, db); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() error {
	var (
		pollStore   poll.Store
		ledgerStore ledger.Store
	)
	if s.infra.postgres != nil {
		st := postgres.NewStore(s.infra.postgres)
		pollStore, ledgerStore = st, st
	} else {
		st := memory.NewStore()
		pollStore, ledgerStore = st, st
	}

	s.service.polls = poll.NewService(poll.Config{
		Store: pollStore,
	})
	s.service.ledger = ledger.NewService(ledger.Config{
		Store: ledgerStore,
	})
	s.service.chat = chat.NewService(chat.Config{
		EventBus: s.eb,
	})
	s.service.roster = roster.NewService(roster.Config{
		EventBus: s.eb,
	})

	// Pick up a poll that was still running when the previous process died.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.service.polls.Resume(ctx); err != nil {
		return fmt.Errorf("resume active poll: %w", err)
	}

	s.hub = hub.New(hub.Config{
		Polls:         s.service.polls,
		Ledger:        s.service.ledger,
		EventBus:      s.eb,
		TimerInterval: s.c.Timer.Interval,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Hub:          s.hub,
		Polls:        s.service.polls,
		Ledger:       s.service.ledger,
		Chat:         s.service.chat,
		Roster:       s.service.roster,
		Redis:        s.infra.redis,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel
	s.hubDone = make(chan struct{})

	var eg errgroup.Group
	eg.Go(func() error {
		defer close(s.hubDone)
		s.hub.Run(ctx)
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if s.hubCancel != nil {
		s.hubCancel()
		select {
		case <-s.hubDone:
		case <-ctx.Done():
		}
	}

	s.eb.Stop()

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}
	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
