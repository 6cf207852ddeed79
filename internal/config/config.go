package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for chatrelay.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Bridge   BridgeConfig   `json:"bridge"`
	Speech   SpeechConfig   `json:"speech"`
	TTS      TTSConfig      `json:"tts"`
	Whisper  WhisperConfig  `json:"whisper"`
	Server   ServerConfig   `json:"server"`
	Channels ChannelsConfig `json:"channels"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// BridgeConfig configures the bridge process: the relay connection, the
// browser session and the message pipeline.
type BridgeConfig struct {
	ServerURL   string `json:"serverUrl"`
	ProfileDir  string `json:"profileDir"`
	Headless    bool   `json:"headless"`
	AppURL      string `json:"appUrl"`
	ControlAddr string `json:"controlAddr"` // local HTTP control surface

	// Selectors for transcript observation; the remaining targets come
	// from the strategy table (selectorsFile overrides the built-ins).
	StreamingSelector string `json:"streamingSelector,omitempty"`
	ResponseSelector  string `json:"responseSelector,omitempty"`
	SelectorsFile     string `json:"selectorsFile,omitempty"`

	Attribution bool `json:"attribution"`
	AutoSend    bool `json:"autoSend"`

	TextDelayMs    int `json:"textDelayMs"`
	FileDelayMs    int `json:"fileDelayMs"`
	MessagePauseMs int `json:"messagePauseMs"`
	AttachSettleMs int `json:"attachSettleMs"`
	FlushPaceMs    int `json:"flushPaceMs"`
	PollIntervalMs int `json:"pollIntervalMs"`

	BackoffBaseMs int `json:"backoffBaseMs"`
	BackoffMaxMs  int `json:"backoffMaxMs"`
}

func (b BridgeConfig) TextDelay() time.Duration    { return time.Duration(b.TextDelayMs) * time.Millisecond }
func (b BridgeConfig) FileDelay() time.Duration    { return time.Duration(b.FileDelayMs) * time.Millisecond }
func (b BridgeConfig) MessagePause() time.Duration { return time.Duration(b.MessagePauseMs) * time.Millisecond }
func (b BridgeConfig) AttachSettle() time.Duration { return time.Duration(b.AttachSettleMs) * time.Millisecond }
func (b BridgeConfig) FlushPace() time.Duration    { return time.Duration(b.FlushPaceMs) * time.Millisecond }
func (b BridgeConfig) PollInterval() time.Duration { return time.Duration(b.PollIntervalMs) * time.Millisecond }
func (b BridgeConfig) BackoffBase() time.Duration  { return time.Duration(b.BackoffBaseMs) * time.Millisecond }
func (b BridgeConfig) BackoffMax() time.Duration   { return time.Duration(b.BackoffMaxMs) * time.Millisecond }

// SpeechConfig configures the transcript speech engine.
type SpeechConfig struct {
	QuietMs       int               `json:"quietMs"`     // debounce window before flushing a chunk
	DefaultLang   string            `json:"defaultLang"` // detection fallback language
	LanguagesFile string            `json:"languagesFile,omitempty"`
	Voices        map[string]string `json:"voices,omitempty"` // language code -> preferred voice
	CachePath     string            `json:"cachePath"`        // sqlite audio cache, empty disables caching
	Player        string            `json:"player,omitempty"` // playback command, autodetected when empty
}

func (s SpeechConfig) Quiet() time.Duration { return time.Duration(s.QuietMs) * time.Millisecond }

// TTSConfig configures text-to-speech synthesis.
type TTSConfig struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider"` // "openai" | "elevenlabs"
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model,omitempty"`
}

// WhisperConfig configures voice note transcription on the server.
type WhisperConfig struct {
	Enabled  bool   `json:"enabled"`
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

// ServerConfig configures the bridge server listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
}

type TelegramConfig struct {
	Enabled    bool           `json:"enabled"`
	Token      string         `json:"token"`
	AllowChats FlexStringList `json:"allowChats"` // empty allows all chats
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// Int64s converts the list to chat IDs, skipping entries that do not parse.
func (f FlexStringList) Int64s() []int64 {
	out := make([]int64, 0, len(f))
	for _, s := range f {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// DefaultConfigDir returns the default config directory (~/.chatrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatrelay"
	}
	return filepath.Join(home, ".chatrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Bridge.ProfileDir = ExpandPath(cfg.Bridge.ProfileDir)
	cfg.Bridge.SelectorsFile = ExpandPath(cfg.Bridge.SelectorsFile)
	cfg.Speech.LanguagesFile = ExpandPath(cfg.Speech.LanguagesFile)
	cfg.Speech.CachePath = ExpandPath(cfg.Speech.CachePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if !strings.HasPrefix(cfg.Bridge.ServerURL, "ws://") && !strings.HasPrefix(cfg.Bridge.ServerURL, "wss://") {
		errs = append(errs, "bridge.serverUrl must be a ws:// or wss:// URL")
	}
	if cfg.Bridge.TextDelayMs < 0 || cfg.Bridge.FileDelayMs < 0 {
		errs = append(errs, "bridge delays must be >= 0")
	}
	if cfg.Bridge.BackoffBaseMs < 1 {
		errs = append(errs, "bridge.backoffBaseMs must be >= 1")
	}
	if cfg.Bridge.BackoffMaxMs < cfg.Bridge.BackoffBaseMs {
		errs = append(errs, "bridge.backoffMaxMs must be >= bridge.backoffBaseMs")
	}
	if cfg.Bridge.PollIntervalMs < 1 {
		errs = append(errs, "bridge.pollIntervalMs must be >= 1")
	}

	if cfg.Speech.QuietMs < 1 {
		errs = append(errs, "speech.quietMs must be >= 1")
	}
	if cfg.Speech.DefaultLang == "" {
		errs = append(errs, "speech.defaultLang must not be empty")
	}

	if cfg.TTS.Enabled {
		switch cfg.TTS.Provider {
		case "openai", "elevenlabs":
			// valid
		default:
			errs = append(errs, "tts.provider must be one of: openai, elevenlabs")
		}
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
