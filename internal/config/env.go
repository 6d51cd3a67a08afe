package config

import (
	"fmt"
	"strings"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// LoadEnvFiles loads .env variants from the VFS in Vite priority order and
// returns the variables matching prefix.
// Priority: .env < .env.local < .env.[mode] < .env.[mode].local
func LoadEnvFiles(fs *vfs.FS, basePath, mode, prefix string) (map[string]string, error) {
	variants := []string{
		basePath,
		basePath + ".local",
		basePath + "." + mode,
		basePath + "." + mode + ".local",
	}

	result := make(map[string]string)
	for _, path := range variants {
		defs, err := parseEnvFile(fs, path, prefix)
		if err != nil {
			if err == vfs.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for k, v := range defs {
			result[k] = v
		}
	}
	return result, nil
}

// parseEnvFile reads a single .env file from the VFS, filtering by prefix.
func parseEnvFile(fs *vfs.FS, path, prefix string) (map[string]string, error) {
	src, err := fs.ReadString(path)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, raw := range strings.Split(src, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}

		// Strip surrounding quotes from value
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		result[key] = value
	}
	return result, nil
}
