package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one below Debug.
const TraceLevel = zapcore.DebugLevel - 1

// LevelFromString parses a zap level name, or "trace". Case is ignored.
func LevelFromString(s string) (zapcore.Level, error) {
	if strings.EqualFold(s, "trace") {
		return TraceLevel, nil
	}
	return zapcore.ParseLevel(s)
}
