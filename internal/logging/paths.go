package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.kb/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kb", "logs")
	}
	return filepath.Join(home, ".kb", "logs")
}

// DefaultLogPath returns the default service log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "service.log")
}

// ComponentLogPath returns the log path for a named component (e.g.
// "worker", "cli"). The CLI process and the long-running background worker
// are separate processes that would otherwise interleave into one file;
// giving each its own rotating file keeps `kb worker start`'s continuous
// batch logging from crowding out a one-shot `kb search` invocation's log.
func ComponentLogPath(component string) string {
	if component == "" {
		return DefaultLogPath()
	}
	return filepath.Join(DefaultLogDir(), component+".log")
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// FindLogFile locates the log file for viewing, preferring an explicit path.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found, expected at: %s", globalPath)
}
