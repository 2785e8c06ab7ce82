package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownLevel is returned when a record level has no formatter.
	ErrUnknownLevel = errors.New("no formatter for level")

	// ErrFormat is returned when a record message cannot be rendered.
	ErrFormat = errors.New("formatting record message")

	// ErrIncompleteTable is returned when a format table doesn't cover
	// every predefined level.
	ErrIncompleteTable = errors.New("incomplete format table")
)

// TimeFormat is the layout used by the {time} placeholder.
const TimeFormat = "15:04:05"

// _noError is rendered by the {error} placeholder when a record carries
// no error.
const _noError = "None"

// Formatter renders a record into its wire body.
type Formatter interface {
	// Format should render the record.
	Format(rec *Record) ([]byte, error)
}

// Layout is a formatter driven by a layout string. Supported
// placeholders are {time}, {level}, {logger}, {file}, {line}, {message}
// and {error}.
type Layout string

// Format renders the record according to the layout. The record stack,
// when present, is appended on a separate line.
func (l Layout) Format(rec *Record) ([]byte, error) {
	msg, err := rec.Text()
	if err != nil {
		return nil, err
	}

	errText := _noError
	if rec.Err != nil {
		errText = rec.Err.Error()
	}

	out := strings.NewReplacer(
		"{time}", rec.Time.Format(TimeFormat),
		"{level}", rec.Level.String(),
		"{logger}", rec.LoggerName(),
		"{file}", rec.Filename(),
		"{line}", strconv.Itoa(rec.Line),
		"{message}", msg,
		"{error}", errText,
	).Replace(string(l))

	if rec.Stack != "" {
		out = strings.TrimSuffix(out, "\n") + "\n" + rec.Stack
	}

	return []byte(out), nil
}

// FormatTable binds exactly one formatter to each level.
type FormatTable map[Level]Formatter

// NewFormatTable copies the given formatters into a new table and checks
// that every predefined level is covered.
func NewFormatTable(fmts map[Level]Formatter) (FormatTable, error) {
	ft := make(FormatTable, len(fmts))

	for lvl, f := range fmts {
		if f == nil {
			continue
		}

		ft[lvl] = f
	}

	for _, lvl := range Levels {
		if _, ok := ft[lvl]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrIncompleteTable, lvl)
		}
	}

	return ft, nil
}

// DefaultFormatTable returns a new table with the default layouts. Debug
// output is the most verbose, info the most terse.
func DefaultFormatTable() FormatTable {
	return FormatTable{
		LevelDebug:    Layout("[{time}] {level} [{logger}:{line}] {message}"),
		LevelInfo:     Layout("{logger}:{message}\n"),
		LevelWarning:  Layout("{level} {file}:{logger}:{line} - {message}\n"),
		LevelError:    Layout("{level} {file}:{logger}:{line} - {message} - {error}\n"),
		LevelCritical: Layout("{level} {file}:{line} - {message}\n"),
	}
}

// Format renders the record with the formatter bound to its level.
// ErrUnknownLevel is returned when no formatter is bound.
func (ft FormatTable) Format(rec *Record) ([]byte, error) {
	f, ok := ft[rec.Level]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLevel, rec.Level)
	}

	return f.Format(rec)
}
