package recorder

import (
	"path/filepath"
	"strings"
	"time"
)

// Evaluate performs the one-shot placeholder substitution spec §3's
// JobConfig requires before a Job is constructed: timestamp placeholders
// in MeasurementName are expanded against now, and CompletePath is
// derived from MeasurementRootDir/MeasurementName unless the caller
// already supplied one.
//
// Placeholders use strftime-style verbs, matching what a measurement-name
// template written by an operator would contain: %Y %m %d %H %M %S.
func (cfg JobConfig) Evaluate(now time.Time) JobConfig {
	replacer := strings.NewReplacer(
		"%Y", now.Format("2006"),
		"%m", now.Format("01"),
		"%d", now.Format("02"),
		"%H", now.Format("15"),
		"%M", now.Format("04"),
		"%S", now.Format("05"),
	)
	cfg.MeasurementName = replacer.Replace(cfg.MeasurementName)
	if cfg.CompletePath == "" {
		cfg.CompletePath = filepath.Join(cfg.MeasurementRootDir, cfg.MeasurementName)
	}
	return cfg
}
