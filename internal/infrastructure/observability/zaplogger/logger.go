// Package zaplogger adapts zap to the observability.Logger port.
package zaplogger

import (
	"strings"
	"time"

	"github.com/wulinbill/loyverse-api/internal/observability"
	"go.uber.org/zap"
)

const redacted = "[redacted]"

// secretKeys are field keys whose values never reach the log output.
var secretKeys = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"client_secret": {},
	"authorization": {},
	"code":          {},
}

type logger struct{ l *zap.Logger }

// New adapts a zap logger to the observability.Logger port, binding any fixed fields.
// A nil base falls back to the global zap logger.
func New(base *zap.Logger, fixed ...observability.Field) observability.Logger {
	if base == nil {
		base = zap.L()
	}
	if len(fixed) > 0 {
		base = base.With(toZapFields(fixed)...)
	}
	return &logger{l: base}
}

func (z *logger) With(fields ...observability.Field) observability.Logger {
	if len(fields) == 0 {
		return z
	}
	return &logger{l: z.l.With(toZapFields(fields)...)}
}

func (z *logger) Debug(msg string, fields ...observability.Field) { z.l.Debug(msg, toZapFields(fields)...) }
func (z *logger) Info(msg string, fields ...observability.Field)  { z.l.Info(msg, toZapFields(fields)...) }
func (z *logger) Warn(msg string, fields ...observability.Field)  { z.l.Warn(msg, toZapFields(fields)...) }
func (z *logger) Error(msg string, fields ...observability.Field) { z.l.Error(msg, toZapFields(fields)...) }

// Sync flushes any buffered log entries. Safe to call on shutdown.
func (z *logger) Sync() error {
	return z.l.Sync()
}

// toZapFields maps port fields onto typed zap fields. Secret keys are
// redacted and an empty "error" field (observability.Err(nil)) is dropped.
func toZapFields(fs []observability.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fs))
	for _, f := range fs {
		if _, secret := secretKeys[strings.ToLower(f.Key)]; secret {
			out = append(out, zap.String(f.Key, redacted))
			continue
		}
		switch v := f.Value.(type) {
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		case string:
			if f.Key == "error" && v == "" {
				continue
			}
			out = append(out, zap.String(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case time.Time:
			out = append(out, zap.Time(f.Key, v))
		case []string:
			out = append(out, zap.Strings(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, f.Value))
		}
	}
	return out
}
