package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/slog"
)

func Test_Level_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARNING", LevelWarning.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "CRITICAL", LevelCritical.String())
	assert.Equal(t, "LEVEL(3)", Level(3).String())
}

func Test_Level_Known(t *testing.T) {
	for _, lvl := range Levels {
		assert.True(t, lvl.Known())
	}

	assert.False(t, Level(3).Known())
}

func Test_LevelFromSlog(t *testing.T) {
	tests := map[slog.Level]Level{
		slog.LevelDebug - 4: LevelDebug,
		slog.LevelDebug:     LevelDebug,
		slog.LevelInfo:      LevelInfo,
		slog.LevelInfo + 2:  LevelInfo,
		slog.LevelWarn:      LevelWarning,
		slog.LevelError:     LevelError,
		slog.LevelError + 4: LevelCritical,
		slog.LevelError + 9: LevelCritical,
	}

	for in, out := range tests {
		assert.Equal(t, out, LevelFromSlog(in), in.String())
	}
}
