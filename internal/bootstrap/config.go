package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"arbmaker/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation: the
// control socket's parent directory must exist and not already hold a
// stale socket file we can't remove, and the journal database's parent
// directory must be writable, per spec.md §7's "Config error at startup:
// fatal, exit non-zero".
func checkPreFlight(cfg *Config) error {
	controlDir := filepath.Dir(cfg.Control.SocketPath)
	if info, err := os.Stat(controlDir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("control.socket_path directory does not exist: %s", controlDir)
		}
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("control.socket_path parent is not a directory: %s", controlDir)
	}

	journalDir := filepath.Dir(cfg.Journal.Path)
	if journalDir != "." {
		if info, err := os.Stat(journalDir); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("journal.path directory does not exist: %s", journalDir)
			}
			return err
		} else if !info.IsDir() {
			return fmt.Errorf("journal.path parent is not a directory: %s", journalDir)
		}
	}

	return nil
}
