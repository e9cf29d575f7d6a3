package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nigamk1/tutorboard/ai"
	"github.com/nigamk1/tutorboard/api"
	"github.com/nigamk1/tutorboard/config"
	"github.com/nigamk1/tutorboard/conversation"
	"github.com/nigamk1/tutorboard/coordinator"
	"github.com/nigamk1/tutorboard/hub"
	"github.com/nigamk1/tutorboard/policy"
	"github.com/nigamk1/tutorboard/session"
	"github.com/nigamk1/tutorboard/store"
	"github.com/nigamk1/tutorboard/ws"
)

func main() {
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("starting tutorboard",
		"http_port", cfg.HTTPPort, "database", cfg.DatabaseURL,
		"ai_provider", cfg.AIProvider, "ai_model", cfg.AIModel)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	tutor, err := ai.NewLLMTutor(ai.TutorConfig{
		Provider: cfg.AIProvider,
		Model:    cfg.AIModel,
		APIKey:   cfg.AIAPIKey,
		BaseURL:  cfg.AIBaseURL,
	})
	if err != nil {
		logger.Error("failed to initialize tutor client", "error", err)
		os.Exit(1)
	}

	var voice ai.Voice
	if cfg.VoiceURL != "" {
		voice = ai.NewVoiceClient(cfg.VoiceURL, cfg.VoiceAPIKey, cfg.VoiceTimeout)
	}

	ctx := context.Background()
	gate, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}

	window := conversation.NewWindow(db, cfg.ContextWindow, logger)
	lifecycle := session.NewManager(db, tutor, logger)

	h := hub.NewHub(logger)
	go h.Run()

	coord := coordinator.New(db, h, window, lifecycle, tutor, voice, gate, cfg.AITimeout, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.NewHandler(db, coord, logger).RegisterRoutes(e)

	wsServer := ws.NewServer(cfg, h, coord, logger)
	e.GET("/ws", wsServer.HandleWebSocket)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("tutorboard started", "port", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	logger.Info("stopped")
}
