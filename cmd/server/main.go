package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/config"
	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/dify"
	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/httpserver"
	"github.com/thangph2146/ai-chatbot-text-to-speech/internal/tts"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	cfg := config.Load()

	e := httpserver.New(cfg, httpserver.Deps{
		Chat: dify.NewClient(cfg.DifyBaseURL, cfg.DifyAPIKey),
		TTS:  tts.NewClient(cfg.TTSBaseURL, cfg.TTSAPIKey, cfg.TTSVoiceID),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logrus.WithField("addr", cfg.HTTPAddress).Info("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server error")
		}
	case sig := <-sigChan:
		logrus.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("graceful shutdown failed")
		_ = server.Close()
	}
}
