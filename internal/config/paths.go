package config

import (
	"path/filepath"

	"github.com/neoclaw-ai/brokerhost/internal/store"
)

func homeConfigPath(home string) string {
	return filepath.Join(home, store.ConfigFilePath)
}

func defaultHomePath(home string) string {
	return filepath.Join(home, ".brokerhost")
}

// ConfigPath returns $BROKERHOST_HOME/config.toml.
func (c *Config) ConfigPath() string {
	return homeConfigPath(c.HomeDir)
}

// DataDir returns $BROKERHOST_HOME/data.
func (c *Config) DataDir() string {
	return filepath.Join(c.HomeDir, store.DataDirPath)
}

func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir(), store.LogsDirPath)
}

func (c *Config) JobsPath() string {
	return filepath.Join(c.DataDir(), store.JobsFilePath)
}

func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), store.JournalFilePath)
}
