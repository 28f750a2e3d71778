package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "KLEEN_CONFIG"
	EnvLibrary  = "KLEEN_LIBRARY"
	EnvStateDir = "KLEEN_STATE_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // KLEEN_CONFIG: override config file path
	LibraryDir string // KLEEN_LIBRARY: library directory override
	StateDir   string // KLEEN_STATE_DIR: state directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LibraryDir: os.Getenv(EnvLibrary),
		StateDir:   os.Getenv(EnvStateDir),
	}
}
