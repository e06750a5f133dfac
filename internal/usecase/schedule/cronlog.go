package schedule

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"feedrelay/internal/observability/metrics"
)

// cronLogger adapts slog to cron.Logger. cron logs every wake-up at info
// level, so those lines go to debug. SkipIfStillRunning reports overlapping
// fires as "skip"; they are counted like in-flight skips.
type cronLogger struct {
	l *slog.Logger
}

var _ cron.Logger = cronLogger{}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		metrics.RecordCheckSkipped("overlap")
	}
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
