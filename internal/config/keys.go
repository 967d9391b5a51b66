package config

import (
	"fmt"
	"os"
	"strings"
)

// DBKey resolves the store encryption key. The SHADOWBOOK_DB_KEY environment
// variable wins over a key file; an empty result means the store is opened
// unencrypted. A configured but unreadable key file is fatal: opening the
// store with the wrong key would fail anyway, and silently falling back to no
// key must never happen.
func (c Config) DBKey() (string, error) {
	if key := os.Getenv("SHADOWBOOK_DB_KEY"); key != "" {
		return key, nil
	}
	if c.DBKeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.DBKeyFile)
	if err != nil {
		return "", fmt.Errorf("read db key file: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("db key file %s is empty", c.DBKeyFile)
	}
	return key, nil
}
