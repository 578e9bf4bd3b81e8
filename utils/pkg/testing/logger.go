// Package oracletesting holds helpers shared by tests across packages.
package oracletesting

import (
	"log/slog"
	"os"
)

// NewLogger returns a stderr logger whose level follows DEBUG: "2" for debug,
// "1" for info, and errors only otherwise.
func NewLogger() *slog.Logger {
	level := slog.LevelError
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
