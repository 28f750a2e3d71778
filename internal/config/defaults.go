package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultDeleteMode         = "trash"
	defaultBatchSize          = 50
	defaultLowWatermark       = 5
	defaultWatchDebounce      = "500ms"
	defaultSafetyScanInterval = "5m"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultListenAddr         = "127.0.0.1:7733"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		LibraryConfig: LibraryConfig{
			DeleteMode:     defaultDeleteMode,
			ConfirmDeletes: true,
		},
		ReviewConfig: ReviewConfig{
			BatchSize:    defaultBatchSize,
			LowWatermark: defaultLowWatermark,
		},
		WatchConfig: WatchConfig{
			WatchDebounce:      defaultWatchDebounce,
			SafetyScanInterval: defaultSafetyScanInterval,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		ServeConfig: ServeConfig{
			ListenAddr: defaultListenAddr,
		},
	}
}
