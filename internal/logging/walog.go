package logging

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// waAdapter routes whatsmeow's internal logging onto slog so the transport
// shares one stream with the rest of the process.
type waAdapter struct {
	module string
}

// NewWALogger returns a whatsmeow logger writing to the default slog logger.
func NewWALogger(module string) waLog.Logger {
	return &waAdapter{module: module}
}

func (l *waAdapter) Errorf(msg string, args ...any) {
	slog.Error(fmt.Sprintf(msg, args...), "mod", l.module)
}

func (l *waAdapter) Warnf(msg string, args ...any) {
	slog.Warn(fmt.Sprintf(msg, args...), "mod", l.module)
}

func (l *waAdapter) Infof(msg string, args ...any) {
	slog.Info(fmt.Sprintf(msg, args...), "mod", l.module)
}

func (l *waAdapter) Debugf(msg string, args ...any) {
	slog.Debug(fmt.Sprintf(msg, args...), "mod", l.module)
}

func (l *waAdapter) Sub(module string) waLog.Logger {
	return &waAdapter{module: l.module + "/" + module}
}
