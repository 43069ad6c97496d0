package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/rental-chat/internal/chat"
	"github.com/suPer8Hu/rental-chat/internal/config"
	"github.com/suPer8Hu/rental-chat/internal/db"
	"github.com/suPer8Hu/rental-chat/internal/httpapi"
	"github.com/suPer8Hu/rental-chat/internal/logging"
	"github.com/suPer8Hu/rental-chat/internal/realtime"
	"github.com/suPer8Hu/rental-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/rental-chat/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	var broker realtime.Broker
	switch cfg.EventBroker {
	case "local":
		log.Warn().Msg("using in-process event broker; worker replies will not reach sockets")
		broker = realtime.NewLocalBroker()
	default:
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rds.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis")
		}
		defer rds.Close()
		broker = rds.Broker(redisstore.DefaultEventChannel)
	}

	// AI replies are optional; without rabbit the chat still works agent-only.
	var replies chat.ReplyQueue
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Warn().Err(err).Msg("rabbit unavailable, AI replies disabled")
	} else {
		defer pub.Close()
		replies = pub
	}

	hub := realtime.NewHub(nil, broker, realtime.Options{
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
		SendBuffer:   cfg.WSSendBuffer,
	})
	svc := chat.NewService(chat.NewRepo(gdb), hub, replies, cfg.ChatWelcomeMessage)
	hub.SetService(svc)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(cfg, svc, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return hub.Run(egCtx) })
	eg.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("broker", cfg.EventBroker).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("server stopped")
		return
	}
	log.Info().Msg("server stopped")
}
