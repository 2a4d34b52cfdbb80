package layers

import (
	"context"
	"log/slog"
	"time"

	"github.com/sagarc03/anystore"
)

// Logging logs every operation at debug level. Failures are logged at warn,
// except the kinds callers routinely expect (NotFound, AlreadyExists,
// ConditionNotMatch), which stay at debug. Unexpected failures are logged at
// error.
type Logging struct {
	logger *slog.Logger
}

// NewLogging creates the layer. A nil logger logs to slog.Default().
func NewLogging(logger *slog.Logger) *Logging {
	return &Logging{logger: logger}
}

func (l *Logging) Layer(inner anystore.Accessor) anystore.Accessor {
	return observe(inner, l)
}

func (l *Logging) log() *slog.Logger {
	if l.logger == nil {
		return slog.Default()
	}
	return l.logger
}

func (l *Logging) begin(ctx context.Context, scheme string, op anystore.Operation, path string) (context.Context, func(error)) {
	start := time.Now()
	return ctx, func(err error) {
		args := []any{
			"backend", scheme,
			"operation", op.String(),
			"path", path,
			"duration", time.Since(start),
		}
		if err == nil {
			l.log().Log(ctx, slog.LevelDebug, "operation finished", args...)
			return
		}
		args = append(args, "kind", outcome(err), "retryable", anystore.IsRetryable(err), "err", err)
		l.log().Log(ctx, levelFor(err), "operation failed", args...)
	}
}

func (l *Logging) transferred(string, anystore.Operation, int) {}

func levelFor(err error) slog.Level {
	switch anystore.KindOf(err) {
	case anystore.KindNotFound, anystore.KindAlreadyExists, anystore.KindConditionNotMatch:
		return slog.LevelDebug
	case anystore.KindUnexpected:
		if anystore.IsRetryable(err) {
			return slog.LevelWarn
		}
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
