package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/bizhanchik/Nerdie/internal/config"
	httpserver "github.com/bizhanchik/Nerdie/internal/http"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	srv, err := httpserver.NewServer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create server")
	}

	logger.WithField("port", cfg.Port).Info("server starting")
	if err := srv.Run(); err != nil {
		logger.WithError(err).Fatal("server stopped with error")
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}
