package config

// Merge overlays one config layer on another. Scalars set in overlay win;
// unset (zero) scalars keep the base value. Bool switches are pointers so an
// explicit false in a later layer still overrides. A tun map in overlay
// replaces the base map wholesale.
func Merge(base, overlay *Config) *Config {
	if base == nil {
		return overlay
	}
	if overlay == nil {
		return base
	}

	out := *base

	if overlay.Version != 0 {
		out.Version = overlay.Version
	}
	out.Home = pick(base.Home, overlay.Home)
	out.Binary = pick(base.Binary, overlay.Binary)
	out.Listen = pick(base.Listen, overlay.Listen)
	out.AutoRefresh = pick(base.AutoRefresh, overlay.AutoRefresh)

	out.Fetch.Timeout = pick(base.Fetch.Timeout, overlay.Fetch.Timeout)
	out.Fetch.MaxSize = pick(base.Fetch.MaxSize, overlay.Fetch.MaxSize)
	out.Fetch.UserAgent = pick(base.Fetch.UserAgent, overlay.Fetch.UserAgent)

	out.Run.LivenessWindow = pick(base.Run.LivenessWindow, overlay.Run.LivenessWindow)
	out.Run.StopTimeout = pick(base.Run.StopTimeout, overlay.Run.StopTimeout)
	out.Run.MinVersion = pick(base.Run.MinVersion, overlay.Run.MinVersion)
	out.Run.LogLevel = pick(base.Run.LogLevel, overlay.Run.LogLevel)
	out.Run.ClashAPI = pick(base.Run.ClashAPI, overlay.Run.ClashAPI)
	out.Run.WebUIPath = pick(base.Run.WebUIPath, overlay.Run.WebUIPath)
	if overlay.Run.Tun != nil {
		out.Run.Tun = overlay.Run.Tun
	}

	out.Log.Level = pick(base.Log.Level, overlay.Log.Level)
	out.Log.File = pick(base.Log.File, overlay.Log.File)
	out.Log.MaxSizeMB = pick(base.Log.MaxSizeMB, overlay.Log.MaxSizeMB)
	out.Log.MaxBackups = pick(base.Log.MaxBackups, overlay.Log.MaxBackups)

	out.Client.PollInterval = pick(base.Client.PollInterval, overlay.Client.PollInterval)

	out.AutoSelect = pickBool(base.AutoSelect, overlay.AutoSelect)
	out.Watch = pickBool(base.Watch, overlay.Watch)
	out.Metrics = pickBool(base.Metrics, overlay.Metrics)

	return &out
}

// MergeAll merges configs in order, lowest precedence first.
func MergeAll(configs ...*Config) *Config {
	var out *Config
	for _, c := range configs {
		out = Merge(out, c)
	}
	return out
}

func pick[T comparable](base, overlay T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

func pickBool(base, overlay *bool) *bool {
	if overlay != nil {
		v := *overlay
		return &v
	}
	return base
}
