// Package blog wraps zap with the small set of conveniences the bus client
// uses for startup/shutdown narration: a single structured logger plus a
// "bulleted list" helper for enumerated startup lines like "enabled
// features" or "apis in registry".
package blog

import "go.uber.org/zap"

// Logger is the structured logger every package in this module logs
// through. A nil *Logger is not valid; use New or NewNop.
type Logger struct {
	z *zap.Logger
}

// New builds a production zap logger (JSON encoding, info level).
func New() (*Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// NewNop returns a logger that discards everything, for tests and for
// callers that haven't configured logging yet.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// NewDevelopment builds a human-readable console logger, useful for local
// runs of a worker process.
func NewDevelopment() (*Logger, error) {
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }

// Sync flushes any buffered log entries. Call during shutdown.
func (l *Logger) Sync() error { return l.z.Sync() }

// Bullets logs title followed by one "item" field per entry in items,
// mirroring the enumerated startup logging ("Enabled features (2)",
// "APIs in registry (3)") the bus client produces at several lifecycle
// points.
func (l *Logger) Bullets(title string, items []string) {
	l.z.Info(title, zap.Strings("items", items), zap.Int("count", len(items)))
}

// With returns a child logger with the given fields attached to every
// subsequent entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}
