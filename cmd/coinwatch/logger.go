package main

import (
	"io"
	"log/slog"

	"github.com/loykin/coinwatch"
	"github.com/loykin/coinwatch/internal/logger"
)

func newLogger(cfg coinwatch.Config) (*slog.Logger, io.Closer, error) {
	return logger.New(cfg.Log)
}
