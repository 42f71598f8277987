package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore splits core into one branch per sampled level plus an
// unsampled branch for Error and above. Levels with no Rate pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	branches := []zapcore.Core{&levelBand{Core: core, lo: zapcore.ErrorLevel, hi: zapcore.FatalLevel}}
	for lvl := TraceLevel; lvl < zapcore.ErrorLevel; lvl++ {
		var band zapcore.Core = &levelBand{Core: core, lo: lvl, hi: lvl}
		if r, ok := cfg.Rates[lvl]; ok {
			band = zapcore.NewSamplerWithOptions(band, cfg.Tick, r.First, r.Thereafter)
		}
		branches = append(branches, band)
	}
	return zapcore.NewTee(branches...)
}

// levelBand admits entries with lo <= level <= hi.
type levelBand struct {
	zapcore.Core
	lo, hi zapcore.Level
}

func (b *levelBand) Enabled(lvl zapcore.Level) bool {
	return lvl >= b.lo && lvl <= b.hi && b.Core.Enabled(lvl)
}

func (b *levelBand) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !b.Enabled(e.Level) {
		return ce
	}
	return b.Core.Check(e, ce)
}

func (b *levelBand) With(fields []zapcore.Field) zapcore.Core {
	return &levelBand{Core: b.Core.With(fields), lo: b.lo, hi: b.hi}
}
