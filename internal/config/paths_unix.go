//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".hpc-writer", "config.yaml"),
		"/etc/hpc-writer/writer.yaml",
	}
}
