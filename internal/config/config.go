package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override config values.
// A double underscore separates nesting levels: ECHOBOT_TELEGRAM__TOKEN -> telegram.token.
const EnvPrefix = "ECHOBOT_"

// Config is the root configuration for echobot.
type Config struct {
	Log      LogConfig      `yaml:"log" koanf:"log"`
	Telegram TelegramConfig `yaml:"telegram" koanf:"telegram"`
	Journal  JournalConfig  `yaml:"journal" koanf:"journal"`
	Status   StatusConfig   `yaml:"status" koanf:"status"`
}

type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`   // debug | info | warn | error
	Format string `yaml:"format" koanf:"format"` // text | json
	File   string `yaml:"file" koanf:"file"`
}

type TelegramConfig struct {
	Token        string  `yaml:"token" koanf:"token"`
	APIEndpoint  string  `yaml:"api_endpoint" koanf:"api_endpoint"`
	PollTimeout  int     `yaml:"poll_timeout" koanf:"poll_timeout"`     // long-poll seconds
	RetryDelay   int     `yaml:"retry_delay" koanf:"retry_delay"`       // seconds between failed polls
	SendRetries  int     `yaml:"send_retries" koanf:"send_retries"`     // 429 retries for sendMessage
	SendRate     int     `yaml:"send_rate" koanf:"send_rate"`           // bot-wide sendMessage calls per minute, 0 = unthrottled
	ChatSendRate int     `yaml:"chat_send_rate" koanf:"chat_send_rate"` // per-chat sendMessage calls per minute, 0 = unthrottled
	SendBurst    int     `yaml:"send_burst" koanf:"send_burst"`         // messages allowed back to back before throttling
	AllowFrom    []int64 `yaml:"allow_from" koanf:"allow_from"`         // empty = everyone
	Debug        bool    `yaml:"debug" koanf:"debug"`
}

type JournalConfig struct {
	Enabled       bool   `yaml:"enabled" koanf:"enabled"`
	DBPath        string `yaml:"db_path" koanf:"db_path"`
	RetentionDays int    `yaml:"retention_days" koanf:"retention_days"`
}

type StatusConfig struct {
	Enabled        bool     `yaml:"enabled" koanf:"enabled"`
	Host           string   `yaml:"host" koanf:"host"`
	Port           int      `yaml:"port" koanf:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" koanf:"allowed_origins"`
}

// DefaultConfigDir returns the default config directory (~/.echobot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".echobot"
	}
	return filepath.Join(home, ".echobot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads configuration from defaults, then the YAML file at path (if it
// exists), then ECHOBOT_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	var src koanf.Provider
	if _, err := os.Stat(path); err == nil {
		src = file.Provider(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot access config file %s: %w", path, err)
	}

	cfg, err := load(src)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// load merges defaults, src (nil = no file) with ${VAR} expansion, and the
// environment overlay, then validates.
func load(src koanf.Provider) (*Config, error) {
	k := koanf.New(".")

	if src != nil {
		if err := k.Load(expandingProvider{src}, yaml.Parser()); err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("cannot load environment overrides: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}

	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envKey maps ECHOBOT_TELEGRAM__POLL_TIMEOUT to telegram.poll_timeout.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// expandingProvider substitutes ${VAR} references in the raw file before parsing.
type expandingProvider struct {
	inner koanf.Provider
}

func (p expandingProvider) ReadBytes() ([]byte, error) {
	data, err := p.inner.ReadBytes()
	if err != nil {
		return nil, err
	}
	return []byte(ExpandEnvVars(string(data))), nil
}

func (p expandingProvider) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("expandingProvider does not support Read()")
}

// bytesProvider serves an in-memory YAML document.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) { return b, nil }

func (b bytesProvider) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("bytesProvider does not support Read()")
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file holds the bot token.
	return os.WriteFile(path, data, 0o600)
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks that the config has valid values. It does not require a
// token so that freshly initialised configs pass; see ValidateForRun.
func Validate(cfg *Config) error {
	var errs []string

	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if strings.Count(cfg.Telegram.APIEndpoint, "%s") != 2 {
		errs = append(errs, "telegram.api_endpoint must contain two %s placeholders (token, method)")
	}
	if cfg.Telegram.PollTimeout < 0 || cfg.Telegram.PollTimeout > 600 {
		errs = append(errs, "telegram.poll_timeout must be between 0 and 600")
	}
	if cfg.Telegram.RetryDelay < 1 {
		errs = append(errs, "telegram.retry_delay must be >= 1")
	}
	if cfg.Telegram.SendRetries < 0 || cfg.Telegram.SendRetries > 10 {
		errs = append(errs, "telegram.send_retries must be between 0 and 10")
	}
	if cfg.Telegram.SendRate < 0 {
		errs = append(errs, "telegram.send_rate must be >= 0")
	}
	if cfg.Telegram.ChatSendRate < 0 {
		errs = append(errs, "telegram.chat_send_rate must be >= 0")
	}
	if cfg.Telegram.SendBurst < 1 {
		errs = append(errs, "telegram.send_burst must be >= 1")
	}

	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.db_path is required when the journal is enabled")
	}
	if cfg.Journal.RetentionDays < 1 {
		errs = append(errs, "journal.retention_days must be >= 1")
	}

	if cfg.Status.Port < 0 || cfg.Status.Port > 65535 {
		errs = append(errs, "status.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

var tokenPattern = regexp.MustCompile(`^[0-9]+:[A-Za-z0-9_-]+$`)

// ValidateToken checks the <bot id>:<secret> shape of a BotFather token.
func ValidateToken(token string) error {
	if !tokenPattern.MatchString(token) {
		return fmt.Errorf("telegram.token is malformed: expected <bot id>:<secret>")
	}
	return nil
}

// ValidateForRun additionally requires a well-formed bot token.
func ValidateForRun(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required (set it in the config file or %sTELEGRAM__TOKEN)", EnvPrefix)
	}
	return ValidateToken(cfg.Telegram.Token)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
