package publish

import (
	"context"
	"runtime"
	"strings"

	"github.com/davseby/logrelay/internal/record"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

const (
	// LoggerKey is the attribute key holding the logger name.
	LoggerKey = "logger"

	// ErrorKey is the attribute key holding the record error.
	ErrorKey = "error"
)

// Handler is a slog handler that publishes every record it handles.
type Handler struct {
	pub   *Publisher
	level slog.Leveler

	logger string
	err    error
	attrs  []slog.Attr
	groups []string
}

// NewHandler creates a new slog handler on top of the publisher. A nil
// level enables every record.
func NewHandler(pub *Publisher, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.Level(record.LevelDebug)
	}

	return &Handler{
		pub:   pub,
		level: level,
	}
}

// Enabled reports whether the level is handled.
func (h *Handler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.level.Level()
}

// Handle converts the slog record and publishes it. Publishing failures
// never reach the caller.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	rec := &record.Record{
		Level:   record.LevelFromSlog(r.Level),
		Logger:  h.logger,
		Err:     h.err,
		Message: r.Message,
		Time:    r.Time,
		Attrs:   slices.Clone(h.attrs),
	}

	if r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		rec.File = f.File
		rec.Line = f.Line
	}

	r.Attrs(func(a slog.Attr) bool {
		h.apply(rec, h.groups, a)
		return true
	})

	h.pub.Emit(rec)

	return nil
}

// WithAttrs returns a handler that adds the attributes to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	h2 := h.clone()

	rec := &record.Record{Logger: h2.logger, Err: h2.err}

	for _, a := range attrs {
		h2.apply(rec, h2.groups, a)
	}

	h2.logger = rec.Logger
	h2.err = rec.Err
	h2.attrs = append(h2.attrs, rec.Attrs...)

	return h2
}

// WithGroup returns a handler that qualifies the keys of subsequent
// attributes with the group name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	h2 := h.clone()
	h2.groups = append(h2.groups, name)

	return h2
}

// apply stores the resolved attribute in the record, qualifying its key
// with the groups. Group values are flattened. Top level logger and error
// attributes fill the corresponding record fields.
func (h *Handler) apply(rec *record.Record, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			groups = append(slices.Clip(groups), a.Key)
		}

		for _, ga := range a.Value.Group() {
			h.apply(rec, groups, ga)
		}

		return
	}

	if a.Key == "" {
		return
	}

	if len(groups) == 0 {
		switch a.Key {
		case LoggerKey:
			rec.Logger = a.Value.String()
			return
		case ErrorKey:
			if err, ok := a.Value.Any().(error); ok {
				rec.Err = err
				return
			}
		}
	}

	if len(groups) > 0 {
		a.Key = strings.Join(groups, ".") + "." + a.Key
	}

	rec.Attrs = append(rec.Attrs, a)
}

// clone returns a copy of the handler that doesn't share slices with
// the original.
func (h *Handler) clone() *Handler {
	return &Handler{
		pub:    h.pub,
		level:  h.level,
		logger: h.logger,
		err:    h.err,
		attrs:  slices.Clip(h.attrs),
		groups: slices.Clip(h.groups),
	}
}
