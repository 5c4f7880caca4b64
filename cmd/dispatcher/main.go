package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/api/handlers/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/api/router"
	"github.com/aliskhannn/notification-dispatcher/internal/api/server"
	notifcache "github.com/aliskhannn/notification-dispatcher/internal/cache/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/channel"
	"github.com/aliskhannn/notification-dispatcher/internal/config"
	dispatch "github.com/aliskhannn/notification-dispatcher/internal/dispatch/notification"
	inmemqueue "github.com/aliskhannn/notification-dispatcher/internal/inmem/queue"
	"github.com/aliskhannn/notification-dispatcher/internal/model"
	rabbitqueue "github.com/aliskhannn/notification-dispatcher/internal/rabbitmq/queue"
	"github.com/aliskhannn/notification-dispatcher/internal/repository/memory"
	"github.com/aliskhannn/notification-dispatcher/internal/repository/migrate"
	notifrepo "github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
	notifsvc "github.com/aliskhannn/notification-dispatcher/internal/service/notification"
	sqsqueue "github.com/aliskhannn/notification-dispatcher/internal/sqs/queue"
	"github.com/aliskhannn/notification-dispatcher/internal/worker"
	"github.com/aliskhannn/notification-dispatcher/pkg/email"
	"github.com/aliskhannn/notification-dispatcher/pkg/push"
	"github.com/aliskhannn/notification-dispatcher/pkg/sms"
	"github.com/aliskhannn/notification-dispatcher/pkg/telegram"
)

type dispatchQueue interface {
	Publish(ctx context.Context, task model.DispatchTask, strategy retry.Strategy) error
	Retry(ctx context.Context, task model.DispatchTask, strategy retry.Strategy) error
	Consume(ctx context.Context, out chan<- model.DispatchTask, strategy retry.Strategy) error
}

type notificationStore interface {
	Insert(ctx context.Context, in model.CreateNotification) (model.Notification, error)
	Get(ctx context.Context, id uuid.UUID) (model.Notification, error)
	List(ctx context.Context, filter model.Filter, page model.Page) ([]model.Notification, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]model.Notification, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]model.Notification, error)
	Transition(ctx context.Context, id uuid.UUID, expected, next model.Status, errorDetail string) (model.Notification, error)
	ResetToPending(ctx context.Context, id uuid.UUID) (model.Notification, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	repo, closeDB := newStore(ctx, cfg)
	closers = append(closers, closeDB)

	q, closeQueue := newQueue(ctx, cfg)
	closers = append(closers, closeQueue)

	service := notifsvc.NewService(repo, q, newSenders(cfg), newCache(ctx, cfg))
	notifHandler := notification.NewHandler(service, val, cfg)
	taskHandler := dispatch.NewHandler(service, cfg.Workers.TaskTimeout)

	notifier := worker.NewNotifier(q, taskHandler)
	sweeper := worker.NewSweeper(service, cfg.Retry, cfg.Sweeper.Interval, cfg.Sweeper.GracePeriod, cfg.Sweeper.BatchSize).
		WithProcessingTimeout(cfg.StaleProcessingAfter())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		notifier.Run(ctx, cfg.Retry, cfg.Workers.Count)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	r := router.New(notifHandler)
	s := server.New(":"+cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	zlog.Logger.Info().Str("port", cfg.Server.HTTPPort).Msg("dispatcher started")

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	wg.Wait()
}

func newStore(ctx context.Context, cfg *config.Config) (notificationStore, func()) {
	if cfg.Database.Driver == "memory" {
		zlog.Logger.Warn().Msg("using in-memory store, notifications are lost on restart")
		return memory.NewRepository(), func() {}
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := migrate.Up(ctx, db.Master); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to apply migrations")
	}

	return notifrepo.NewRepository(db), func() {
		if err := db.Master.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close master DB")
		}

		for i, s := range db.Slaves {
			if err := s.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msgf("failed to close slave DB %d", i)
			}
		}
	}
}

func newQueue(ctx context.Context, cfg *config.Config) (dispatchQueue, func()) {
	switch cfg.Queue.Backend {
	case "memory":
		return inmemqueue.New(cfg.Queue.Capacity, cfg.Queue.RetryDelay), func() {}

	case "sqs":
		q, err := sqsqueue.NewFromConfig(ctx, cfg.SQS, cfg.Queue.RetryDelay)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to create sqs queue")
		}
		return q, func() {}

	default:
		conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}

		ch, err := conn.Channel()
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
		}

		q, err := rabbitqueue.NewDispatchQueue(ch, cfg.RabbitMQ, cfg.Queue.RetryDelay)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to create dispatch queue")
		}

		return q, func() {
			if err := ch.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
			}

			if err := conn.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
			}
		}
	}
}

func newCache(ctx context.Context, cfg *config.Config) notifcache.Store {
	if cfg.Redis.Address == "" {
		zlog.Logger.Warn().Msg("redis address not set, cache disabled")
		return notifcache.Disabled{}
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database)
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	return notifcache.New(rdb, cfg.Redis.TTL)
}

// newSenders builds one sender per channel. A channel without provider
// credentials falls back to logging.
func newSenders(cfg *config.Config) channel.Registry {
	senders := channel.Registry{
		Email: channel.NewLogSender(string(model.ChannelEmail)),
		SMS:   channel.NewLogSender(string(model.ChannelSMS)),
		Push:  channel.NewLogSender(string(model.ChannelPush)),
	}

	if cfg.Email.SMTPHost != "" {
		smtpPort, err := strconv.Atoi(cfg.Email.SMTPPort)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to parse email smtp port")
		}

		senders.Email = channel.NewEmailSender(email.NewClient(
			cfg.Email.SMTPHost,
			smtpPort,
			cfg.Email.Username,
			cfg.Email.Password,
			cfg.Email.From,
		))
	}

	if cfg.SMS.AccountSID != "" {
		senders.SMS = channel.NewSMSSender(sms.NewClient(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber))
	}

	switch {
	case cfg.Push.Provider == "telegram" && cfg.Telegram.Token != "":
		senders.Push = channel.NewPushSender("telegram", telegram.NewClient(cfg.Telegram.Token))
	case cfg.Push.Provider == "fcm" && cfg.Push.FCMServerKey != "":
		senders.Push = channel.NewPushSender("fcm", push.NewClient(cfg.Push.FCMServerKey))
	}

	return senders
}
