package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/rental-chat/internal/ai"
	"github.com/suPer8Hu/rental-chat/internal/chat"
	"github.com/suPer8Hu/rental-chat/internal/config"
	"github.com/suPer8Hu/rental-chat/internal/db"
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
	repo := chat.NewRepo(gdb)

	// Replies reach the users' sockets through the same redis channel the
	// servers subscribe to.
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := rds.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("redis")
	}
	defer rds.Close()
	events := realtime.NewPublisher(rds.Broker(redisstore.DefaultEventChannel))

	reg := ai.NewRegistry()
	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	provider, err := reg.Get(ctx, cfg.AIProvider, cfg.OllamaModel)
	if err != nil {
		log.Fatal().Err(err).Msg("ai provider")
	}

	responder := chat.NewResponder(repo, provider, events, cfg.ChatContextWindowSize)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.WorkerConcurrency,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit consumer")
	}
	defer consumer.Close()

	log.Info().
		Str("queue", cfg.RabbitQueue).
		Int("concurrency", cfg.WorkerConcurrency).
		Str("provider", cfg.AIProvider).
		Msg("reply worker starting")

	if err := consumer.Run(ctx, responder.HandleJob); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		return
	}
	log.Info().Msg("worker stopped")
}
