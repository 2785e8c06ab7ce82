// package record contains the log record representation shared by the
// publishing side of the relay, together with topic derivation and the
// per-level formatting rules.
package record

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/exp/slog"
)

// _rootLogger is the logger name used when a record doesn't carry one.
const _rootLogger = "root"

// Record contains relevant information about a single log call.
type Record struct {
	// Level is the severity of the record.
	Level Level

	// Logger is the name of the logger that produced the record.
	Logger string

	// Message is the message text. It may start with a subtopic followed
	// by the Delimiter.
	Message string

	// Args are printf style arguments interpolated into the Message.
	Args []any

	// Attrs are structured attributes rendered after the message.
	Attrs []slog.Attr

	// File is the source file of the log call.
	File string

	// Line is the source line of the log call.
	Line int

	// Time is the time when the record was created.
	Time time.Time

	// Err is the error attached to the record, if any.
	Err error

	// Stack is an optional stack trace rendered after the formatted body.
	Stack string
}

// NewRecord creates a new log record stamped with the current time.
func NewRecord(lvl Level, logger, msg string, args ...any) *Record {
	return &Record{
		Level:   lvl,
		Logger:  logger,
		Message: msg,
		Args:    args,
		Time:    time.Now(),
	}
}

// LoggerName returns the logger name, falling back to the root logger.
func (r *Record) LoggerName() string {
	if r.Logger == "" {
		return _rootLogger
	}

	return r.Logger
}

// Filename returns the base name of the source file.
func (r *Record) Filename() string {
	if r.File == "" {
		return ""
	}

	return filepath.Base(r.File)
}

// Text renders the message: arguments are interpolated first and
// attributes are appended afterwards. ErrFormat is returned when the
// arguments don't match the message verbs.
func (r *Record) Text() (string, error) {
	msg := r.Message

	if len(r.Args) > 0 {
		var err error

		msg, err = interpolate(r.Message, r.Args)
		if err != nil {
			return "", err
		}
	}

	if len(r.Attrs) == 0 {
		return msg, nil
	}

	var sb strings.Builder

	sb.WriteString(msg)

	for _, attr := range r.Attrs {
		sb.WriteByte(' ')
		sb.WriteString(attr.String())
	}

	return sb.String(), nil
}

// interpolate formats the message with the arguments.
// NOTE: fmt never fails, it reports faults inline with a "%!" marker. The
// arguments' own text may contain the marker too, so missing or extra
// arguments are looked for in a rendering without the argument text and
// bad verbs are checked per argument.
func interpolate(format string, args []any) (string, error) {
	var (
		bad     bool
		blank   = make([]any, len(args))
		checked = make([]any, len(args))
	)

	for i, arg := range args {
		switch arg.(type) {
		case int:
			// ints may be used as * widths and never contain the marker.
			blank[i] = arg
			checked[i] = arg
		default:
			blank[i] = &blankArg{}
			checked[i] = &checkedArg{v: arg, bad: &bad}
		}
	}

	msg := fmt.Sprintf(format, args...)

	skeleton := fmt.Sprintf(format, blank...)
	if strings.Count(skeleton, "%!") > strings.Count(format, "%!") {
		return "", fmt.Errorf("%w: %q", ErrFormat, msg)
	}

	fmt.Fprintf(io.Discard, format, checked...)

	if bad {
		return "", fmt.Errorf("%w: %q", ErrFormat, msg)
	}

	return msg, nil
}

// blankArg renders as nothing, whatever the verb.
type blankArg struct{}

// Format implements fmt.Formatter.
func (*blankArg) Format(fmt.State, rune) {}

// checkedArg flags the argument when fmt rejects the verb it is
// formatted with.
type checkedArg struct {
	v   any
	bad *bool
}

// Format implements fmt.Formatter.
func (a *checkedArg) Format(f fmt.State, verb rune) {
	out := fmt.Sprintf(fmt.FormatString(f, verb), a.v)

	if strings.HasPrefix(out, "%!"+string(verb)+"(") {
		*a.bad = true
	}
}
