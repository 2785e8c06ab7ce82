package publish

import (
	"github.com/davseby/logrelay/internal/record"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// Core is a zap core that publishes every entry it writes.
type Core struct {
	zapcore.LevelEnabler

	pub    *Publisher
	fields []zapcore.Field
}

// NewCore creates a new zap core on top of the publisher.
func NewCore(pub *Publisher, enab zapcore.LevelEnabler) *Core {
	return &Core{
		LevelEnabler: enab,
		pub:          pub,
	}
}

// With returns a core that adds the fields to every entry.
func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	return &Core{
		LevelEnabler: c.LevelEnabler,
		pub:          c.pub,
		fields:       append(slices.Clip(c.fields), fields...),
	}
}

// Check adds the core to the checked entry if the level is enabled.
func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// Write converts the entry and publishes it. Publishing failures never
// reach the caller.
func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	rec := &record.Record{
		Level:   levelFromZap(ent.Level),
		Logger:  ent.LoggerName,
		Message: ent.Message,
		Time:    ent.Time,
		Stack:   ent.Stack,
	}

	if ent.Caller.Defined {
		rec.File = ent.Caller.File
		rec.Line = ent.Caller.Line
	}

	enc := zapcore.NewMapObjectEncoder()

	for _, f := range append(slices.Clip(c.fields), fields...) {
		if f.Type == zapcore.ErrorType {
			if err, ok := f.Interface.(error); ok && f.Key == ErrorKey {
				rec.Err = err
				continue
			}
		}

		f.AddTo(enc)
	}

	keys := maps.Keys(enc.Fields)
	slices.Sort(keys)

	for _, k := range keys {
		rec.Attrs = append(rec.Attrs, slog.Any(k, enc.Fields[k]))
	}

	c.pub.Emit(rec)

	return nil
}

// Sync is a no-op, records are sent as they are written.
func (c *Core) Sync() error {
	return nil
}

// levelFromZap maps zap levels onto record levels. Every level above
// error is critical.
func levelFromZap(lvl zapcore.Level) record.Level {
	switch {
	case lvl <= zapcore.DebugLevel:
		return record.LevelDebug
	case lvl == zapcore.InfoLevel:
		return record.LevelInfo
	case lvl == zapcore.WarnLevel:
		return record.LevelWarning
	case lvl == zapcore.ErrorLevel:
		return record.LevelError
	default:
		return record.LevelCritical
	}
}
