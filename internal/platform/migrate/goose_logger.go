package migrate

import (
	"fmt"
	"log/slog"
	"strings"
)

// gooseLogger routes goose output through slog. Per-file progress goes to
// debug; the summary lines goose prints once per run go to info.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if strings.HasPrefix(msg, "goose: ") {
		l.logger.Info(strings.TrimPrefix(msg, "goose: "), "component", "migrate")
		return
	}
	l.logger.Debug(msg, "component", "migrate")
}

// Fatalf panics instead of exiting so Apply can surface the failure as an error.
func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	panic(migrationPanic(strings.TrimSpace(fmt.Sprintf(format, v...))))
}

type migrationPanic string
