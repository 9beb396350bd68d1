package wa

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter bridges whatsmeow's logger interface onto slog so the
// provider library logs through the same sink as the rest of the
// process.
type slogAdapter struct {
	l *slog.Logger
}

// Logger wraps base for use by whatsmeow components.
func Logger(base *slog.Logger) waLog.Logger {
	return &slogAdapter{l: base}
}

func (a *slogAdapter) Errorf(msg string, args ...interface{}) {
	a.l.Error(fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Warnf(msg string, args ...interface{}) {
	a.l.Warn(fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Infof(msg string, args ...interface{}) {
	a.l.Info(fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Debugf(msg string, args ...interface{}) {
	a.l.Debug(fmt.Sprintf(msg, args...))
}

func (a *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{l: a.l.With("module", module)}
}
