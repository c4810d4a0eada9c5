package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only the log level is applied live; other changes are reported so the
// operator knows a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if !serverEqual(oldSrv, newSrv) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Gemini != new.Gemini {
		d.RestartRequired = append(d.RestartRequired, "gemini")
	}
	if !podcastEqual(old.Podcast, new.Podcast) {
		d.RestartRequired = append(d.RestartRequired, "podcast")
	}
	if old.Transcriber != new.Transcriber {
		d.RestartRequired = append(d.RestartRequired, "transcriber")
	}
	if old.Artifacts != new.Artifacts {
		d.RestartRequired = append(d.RestartRequired, "artifacts")
	}
	return d
}

func serverEqual(a, b ServerConfig) bool {
	ta, tb := a.TLS, b.TLS
	oa, ob := a.AllowedOrigins, b.AllowedOrigins
	a.TLS, b.TLS = nil, nil
	a.AllowedOrigins, b.AllowedOrigins = nil, nil
	if !reflect.DeepEqual(a, b) || !slices.Equal(oa, ob) {
		return false
	}
	if ta == nil || tb == nil {
		return ta == tb
	}
	return *ta == *tb
}

func podcastEqual(a, b PodcastConfig) bool {
	if a.MaxTurns != b.MaxTurns || !slices.Equal(a.Speakers, b.Speakers) {
		return false
	}
	if a.ScriptWriter == nil || b.ScriptWriter == nil {
		return a.ScriptWriter == b.ScriptWriter
	}
	return *a.ScriptWriter == *b.ScriptWriter
}
