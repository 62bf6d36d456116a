package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"transcription/internal/app"
	"transcription/internal/http/handlers"
	httpapi "transcription/internal/http/httpapi"
	"transcription/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: failed to open stores")
	}
	defer rt.Close()

	svc, err := rt.NewService(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: failed to configure transcription service")
	}

	operatorToken, err := rt.OperatorToken(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: operator routes need a token")
	}
	if operatorToken == "" {
		logger.Warn().Msg("dispatcher: operator routes are unauthenticated")
	}

	handlerApp := handlers.NewApp(svc, logger)
	handlerApp.Ready = rt.Ready
	router := httpapi.NewRouter(handlerApp, httpapi.Options{
		Logger:             logger,
		CallbackSecret:     rt.CallbackSecret(ctx),
		OperatorToken:      operatorToken,
		RateLimitPerMinute: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	if err := svc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: failed to start workers")
	}

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("dispatcher: http listening")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("dispatcher: http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("dispatcher: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher: failed to shutdown http server")
	}
	if err := svc.Stop(); err != nil {
		logger.Error().Err(err).Msg("dispatcher: workers stopped with error")
	}
	logger.Info().Msg("dispatcher: stopped")
}
