package bootstrap

import (
	"fmt"
	"os"

	"github.com/neoclaw-ai/brokerhost/internal/config"
)

// Initialize creates the expected brokerhost home tree if missing.
func Initialize(cfg *config.Config) error {
	dirs := []string{
		cfg.HomeDir,
		cfg.DataDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	defaultConfig, err := config.DefaultUserConfigTOML()
	if err != nil {
		return err
	}

	files := []struct {
		path    string
		content string
	}{
		{path: cfg.ConfigPath(), content: defaultConfig},
		{path: cfg.JobsPath(), content: "[]\n"},
		{path: cfg.JournalPath(), content: ""},
	}

	for _, file := range files {
		if err := writeFileIfMissing(file.path, file.content); err != nil {
			return err
		}
	}

	return nil
}

func writeFileIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file %q: %w", path, err)
	}
	return nil
}
