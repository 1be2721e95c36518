package internal

import (
	"log/slog"
	"os"

	"github.com/mama165/sdk-go/logs"
	slogmulti "github.com/samber/slog-multi"
)

// NewLogger returns the console logger for level. With a logFile, records are
// also written there as JSON. The returned cleanup closes the file.
func NewLogger(level, logFile string) (*slog.Logger, func() error, error) {
	console := logs.GetLoggerFromString(level)
	if logFile == "" {
		return console, func() error { return nil }, nil
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(slogmulti.Fanout(console.Handler(), fileHandler)), file.Close, nil
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
