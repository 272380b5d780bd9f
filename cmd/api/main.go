package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stream-chat/internal/config"
	"stream-chat/internal/db"
	apihttp "stream-chat/internal/http"
	"stream-chat/internal/llm"
	"stream-chat/internal/repository"
	"stream-chat/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := db.Ping(pingCtx, pool); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}
	cancelPing()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("db schema", zap.Error(err))
	}

	messageRepo := repository.NewPgMessageRepository(pool)
	conversationRepo := repository.NewPgConversationRepository(pool)

	sendLock := service.NewMemorySendLock(cfg.SendLockTTL)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-process send lock", zap.Error(err))
		} else {
			sendLock = service.NewRedisSendLock(redisClient, cfg.SendLockTTL)
		}
		cancel()
	}

	if cfg.LLMAPIKey == "" {
		logger.Warn("llm api key not configured")
	}
	llmClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, nil, logger)

	conversationSvc := service.NewConversationService(conversationRepo)
	messageSvc := service.NewMessageService(messageRepo)
	contextSvc := service.NewHistoryContextService(messageRepo, cfg.HistoryWindow, cfg.LLMSystemPrompt)
	chatSvc := service.NewChatService(llmClient, messageRepo, conversationSvc, contextSvc, sendLock, logger)

	chatHandler := apihttp.NewChatHandler(logger, chatSvc, messageSvc, conversationSvc)
	conversationHandler := apihttp.NewConversationHandler(logger, conversationSvc)
	router := apihttp.NewRouter(logger, chatHandler, conversationHandler)

	// Sin WriteTimeout: las respuestas NDJSON duran lo que tarde el modelo.
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
