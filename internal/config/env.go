package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// file holds values from the YAML config file. The environment takes
// precedence over it.
var file struct {
	sync.RWMutex
	values map[string]string
}

// LoadFile reads a flat YAML mapping of KEY: value pairs. Keys are
// case-insensitive. An empty path is a no-op.
func LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v != nil {
			values[strings.ToUpper(k)] = fmt.Sprint(v)
		}
	}

	file.Lock()
	file.values = values
	file.Unlock()
	return nil
}

func lookup(key string) (string, bool) {
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	file.RLock()
	defer file.RUnlock()
	v, ok := file.values[key]
	return v, ok && v != ""
}

// get parses key with parse, returning def when key is unset or unparsable.
func get[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := lookup(key)
	if !ok {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// GetEnv returns the value of key or def.
func GetEnv(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

// GetIntEnv returns key as an int, or def when unset or malformed.
func GetIntEnv(key string, def int) int {
	return get(key, def, strconv.Atoi)
}

// GetFloatEnv returns key as a float64, or def when unset or malformed.
func GetFloatEnv(key string, def float64) float64 {
	return get(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// GetDurationEnv returns key as a time.Duration ("30s", "2m"), or def.
func GetDurationEnv(key string, def time.Duration) time.Duration {
	return get(key, def, time.ParseDuration)
}

// GetSecretFile returns the trimmed contents of path, or "" when path is
// empty or unreadable. Suits Docker and Kubernetes mounted secrets.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// GetSecret returns KEY, falling back to the file named by KEY_FILE.
func GetSecret(key string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return GetSecretFile(GetEnv(key+"_FILE", ""))
}
