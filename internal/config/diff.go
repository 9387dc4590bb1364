package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// IndexChanged is set when batch size, concurrency, or default top-k
	// changed. These apply to the next request.
	IndexChanged bool
	NewIndex     IndexConfig

	// RestartRequired lists the sections that changed but are only read at
	// start-up (embeddings provider, failover, store, listen address, TLS).
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.IndexChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Index != new.Index {
		d.IndexChanged = true
		d.NewIndex = new.Index
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameEntry(old.Embeddings, new.Embeddings) {
		d.RestartRequired = append(d.RestartRequired, "embeddings")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if !sameFailover(old.Failover, new.Failover) {
		d.RestartRequired = append(d.RestartRequired, "failover")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEntry compares the fields that affect the built provider. Options are
// compared by their string form.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Timeout != b.Timeout || len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmtAny(v) != fmtAny(w) {
			return false
		}
	}
	return true
}

func sameFailover(a, b FailoverConfig) bool {
	return a.MaxFailures == b.MaxFailures && a.ResetTimeout == b.ResetTimeout &&
		a.HalfOpenMax == b.HalfOpenMax && slices.EqualFunc(a.Fallbacks, b.Fallbacks, sameEntry)
}

func fmtAny(v any) string { return fmt.Sprintf("%#v", v) }
