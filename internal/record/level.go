package record

import (
	"fmt"

	"golang.org/x/exp/slog"
)

// Level is a record severity. The numeric values line up with slog
// levels so that records can be converted without a lookup table.
type Level int

const (
	// LevelDebug is used for verbose diagnostic records.
	LevelDebug Level = Level(slog.LevelDebug)

	// LevelInfo is used for informational records.
	LevelInfo Level = Level(slog.LevelInfo)

	// LevelWarning is used for records that need attention.
	LevelWarning Level = Level(slog.LevelWarn)

	// LevelError is used for failed operations.
	LevelError Level = Level(slog.LevelError)

	// LevelCritical is used for failures the process may not survive.
	LevelCritical Level = Level(slog.LevelError + 4)
)

// Levels lists every known level in ascending severity.
var Levels = []Level{
	LevelDebug,
	LevelInfo,
	LevelWarning,
	LevelError,
	LevelCritical,
}

// String returns the level name used as the topic segment.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Known reports whether the level is one of the predefined levels.
func (l Level) Known() bool {
	for _, lvl := range Levels {
		if lvl == l {
			return true
		}
	}

	return false
}

// LevelFromSlog maps any slog level onto the closest predefined level at
// or below it.
func LevelFromSlog(lvl slog.Level) Level {
	switch {
	case lvl < slog.LevelInfo:
		return LevelDebug
	case lvl < slog.LevelWarn:
		return LevelInfo
	case lvl < slog.LevelError:
		return LevelWarning
	case lvl < slog.Level(LevelCritical):
		return LevelError
	default:
		return LevelCritical
	}
}
