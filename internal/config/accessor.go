package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// toMap converts cfg to a generic map keyed by the YAML field names.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yamlv3.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "telegram.poll_timeout").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	return lookup(m, path)
}

func lookup(m map[string]any, path string) (any, error) {
	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// LoadFile reads the config file at path exactly as written: no defaults,
// no ${VAR} expansion, no environment overlay. A missing file is empty.
func LoadFile(path string) (*koanf.Koanf, error) {
	path = ExpandPath(path)
	k := koanf.New(".")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return k, nil
		}
		return nil, fmt.Errorf("cannot access config file %s: %w", path, err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return k, nil
}

// SetInFile writes updates (dot path -> value) into the config file at path.
// Only the named keys change. ${VAR} references, ~/ paths and values that
// come from ECHOBOT_* variables are never written out. The config that
// would result must pass Validate, otherwise the file is left untouched.
func SetInFile(path string, updates map[string]string) error {
	path = ExpandPath(path)
	k, err := LoadFile(path)
	if err != nil {
		return err
	}
	known, err := toMap(Defaults())
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		current, err := lookup(known, key)
		if err != nil {
			return err
		}
		v, err := convertValue(current, updates[key])
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if err := k.Set(key, v); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}

	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if _, err := load(bytesProvider(data)); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// IsEnvReference reports whether s is a ${VAR} or ${VAR:-default} reference.
func IsEnvReference(s string) bool {
	return envVarPattern.FindString(s) == s && s != ""
}

// convertValue parses s into the type of the existing value. Env references
// are kept verbatim for any scalar and resolved at load time.
func convertValue(current any, s string) (any, error) {
	switch current.(type) {
	case map[string]any:
		return nil, fmt.Errorf("is a section, not a value")
	case []any, nil: // nil slices marshal as null
		return parseList(s), nil
	}
	if IsEnvReference(s) {
		return s, nil
	}
	switch current.(type) {
	case string:
		return s, nil
	case bool:
		return strconv.ParseBool(s)
	case int:
		return strconv.Atoi(s)
	default:
		return parseValue(s), nil
	}
}

// parseList splits a comma-separated value; an empty string clears the list.
func parseList(s string) []any {
	result := []any{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		result = append(result, parseValue(item))
	}
	return result
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with the bot token masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	if c.Telegram.Token != "" {
		c.Telegram.Token = maskString(c.Telegram.Token)
	}
	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
