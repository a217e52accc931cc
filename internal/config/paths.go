package config

import (
	"os"
	"path/filepath"
	"sync"
)

// Paths holds standard sagi directory paths.
type Paths struct {
	// Home is the sagi home directory (~/.sagi)
	Home string

	// Data holds the SQLite database (~/.sagi/data)
	Data string

	// Logs holds agent turn logs (~/.sagi/logs)
	Logs string

	// ConfigFiles are the config locations tried in order.
	ConfigFiles []string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home := os.Getenv("SAGI_HOME")
		if home == "" {
			userHome, err := os.UserHomeDir()
			if err != nil {
				userHome = "."
			}
			home = filepath.Join(userHome, ".sagi")
		}

		paths = &Paths{
			Home: home,
			Data: filepath.Join(home, "data"),
			Logs: filepath.Join(home, "logs"),
			ConfigFiles: []string{
				filepath.Join(home, "config.yaml"),
				filepath.Join(home, "config.yml"),
				filepath.Join(home, "config.json"),
			},
		}
	})
	return paths
}

// ResetPaths clears the cached paths (for testing).
func ResetPaths() {
	pathsOnce = sync.Once{}
	paths = nil
}

// Path returns a path under the sagi home directory.
func Path(parts ...string) string {
	return filepath.Join(append([]string{GetPaths().Home}, parts...)...)
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
