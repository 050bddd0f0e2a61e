package config

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually. Everything else that
// changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProxyChanged is true when any field applied to new proxy sessions
	// changed (auth token, default voice, transcription model, max sessions).
	ProxyChanged bool

	// RestartRequired names the fields that changed but only take effect
	// after a restart, e.g. "server.listen_addr".
	RestartRequired []string
}

// Empty reports whether the diff carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ProxyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Proxy, new.Proxy
	if op.AuthToken != np.AuthToken ||
		op.DefaultVoice != np.DefaultVoice ||
		op.TranscriptionModel != np.TranscriptionModel ||
		op.MaxSessions != np.MaxSessions {
		d.ProxyChanged = true
	}

	restart := []struct {
		field   string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"server.tls", !sameTLS(old.Server.TLS, new.Server.TLS)},
		{"server.log_file", old.Server.LogFile != new.Server.LogFile},
		{"upstream.url", old.Upstream.URL != new.Upstream.URL},
		{"upstream.api_key", old.Upstream.APIKey != new.Upstream.APIKey},
		{"upstream.model", old.Upstream.Model != new.Upstream.Model},
		{"proxy.path", op.Path != np.Path},
		{"functions.path", old.Functions.Path != new.Functions.Path},
		{"history.backend", old.History.Backend != new.History.Backend},
		{"telemetry.metrics_path", old.Telemetry.MetricsPath != new.Telemetry.MetricsPath},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.field)
		}
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
