package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// SettingsFileName is the TOML config file for dashboard preferences
const SettingsFileName = "config.toml"

// Environment variable overrides. Env always wins over file values.
const (
	EnvSettingsPath   = "CLAWBOARD_CONFIG"
	EnvRegistryPath   = "CLAWBOARD_REGISTRY_PATH"
	EnvTranscriptsDir = "CLAWBOARD_TRANSCRIPTS_DIR"
	EnvGatewayURL     = "CLAWBOARD_GATEWAY_URL"
	EnvGatewayConfig  = "CLAWDBOT_CONFIG_PATH"
)

// DefaultGatewayPort is used when the agent runtime config does not set one.
const DefaultGatewayPort = 18789

// Settings represents user-facing configuration in TOML format
type Settings struct {
	// RegistryPath is the JSON document the agent runtime rewrites with
	// per-session metadata
	RegistryPath string `toml:"registry_path"`

	// TranscriptsDir contains <sessionId>.jsonl transcripts and their
	// .jsonl.lock markers
	TranscriptsDir string `toml:"transcripts_dir"`

	// Gateway defines control-plane connection settings
	Gateway GatewaySettings `toml:"gateway"`

	// Status defines liveness threshold overrides
	Status StatusSettings `toml:"status"`

	// Web defines the operator HTTP surface
	Web WebSettings `toml:"web"`

	// Logs defines log file management settings
	Logs LogSettings `toml:"logs"`
}

// GatewaySettings defines how to reach the control-plane process.
type GatewaySettings struct {
	// URL is the full websocket address, e.g. ws://127.0.0.1:18789.
	// Empty means derive from the runtime config's port.
	URL string `toml:"url"`

	// ConfigPath points at the agent runtime's own JSON config, which
	// supplies auth credentials and the listen port
	ConfigPath string `toml:"config_path"`
}

// StatusSettings overrides liveness classification thresholds, in seconds.
// Zero values mean "use the built-in default". The defaults track the agent
// runtime's polling cadence and are not worth re-deriving here.
type StatusSettings struct {
	RunningThresholdSecs  int `toml:"running_threshold_secs"`
	IdleThresholdSecs     int `toml:"idle_threshold_secs"`
	TranscriptWindowSecs  int `toml:"transcript_window_secs"`
	ActiveAbortWindowSecs int `toml:"active_abort_window_secs"`
}

// WebSettings defines the operator HTTP server.
type WebSettings struct {
	ListenAddr string `toml:"listen_addr"`
	Token      string `toml:"token"`
}

// LogSettings defines log file management.
type LogSettings struct {
	Dir    string `toml:"dir"`
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ConfigDir returns the clawboard config directory (~/.clawboard).
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".clawboard")
}

// SettingsPath returns the path of the TOML settings file.
// CLAWBOARD_CONFIG overrides the default location.
func SettingsPath() string {
	if env := os.Getenv(EnvSettingsPath); env != "" {
		return ExpandTilde(env)
	}
	return filepath.Join(ConfigDir(), SettingsFileName)
}

// LoadSettings reads the TOML settings file and applies defaults and env
// overrides. A missing file is not an error; defaults are returned.
func LoadSettings() (*Settings, error) {
	settings := &Settings{}

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		if _, err := toml.Decode(string(data), settings); err != nil {
			return nil, fmt.Errorf("parse %s: %w", SettingsPath(), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", SettingsPath(), err)
	}

	settings.applyDefaults()
	settings.applyEnv()
	return settings, nil
}

func (s *Settings) applyDefaults() {
	home, _ := os.UserHomeDir()
	runtimeDir := filepath.Join(home, ".clawdbot")

	if s.RegistryPath == "" {
		s.RegistryPath = filepath.Join(runtimeDir, "sessions.json")
	}
	if s.TranscriptsDir == "" {
		s.TranscriptsDir = filepath.Join(runtimeDir, "transcripts")
	}
	if s.Gateway.ConfigPath == "" {
		s.Gateway.ConfigPath = filepath.Join(runtimeDir, "clawdbot.json")
	}
	if s.Web.ListenAddr == "" {
		s.Web.ListenAddr = "127.0.0.1:8430"
	}
}

func (s *Settings) applyEnv() {
	if env := os.Getenv(EnvRegistryPath); env != "" {
		s.RegistryPath = ExpandTilde(env)
	}
	if env := os.Getenv(EnvTranscriptsDir); env != "" {
		s.TranscriptsDir = ExpandTilde(env)
	}
	if env := os.Getenv(EnvGatewayURL); env != "" {
		s.Gateway.URL = env
	}
	if env := os.Getenv(EnvGatewayConfig); env != "" {
		s.Gateway.ConfigPath = ExpandTilde(env)
	}
	s.RegistryPath = ExpandTilde(s.RegistryPath)
	s.TranscriptsDir = ExpandTilde(s.TranscriptsDir)
	s.Gateway.ConfigPath = ExpandTilde(s.Gateway.ConfigPath)
}

// GatewayAuth holds resolved control-plane credentials. Password is preferred
// over Token when both are present. Both empty is valid: the connect request
// carries an empty auth payload and the remote decides.
type GatewayAuth struct {
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// runtimeConfig is the subset of the agent runtime's JSON config we read.
type runtimeConfig struct {
	Gateway struct {
		Port int `json:"port"`
		Auth struct {
			Password string `json:"password"`
			Token    string `json:"token"`
		} `json:"auth"`
	} `json:"gateway"`
}

// ResolveGateway reads the agent runtime's JSON config and returns the
// websocket URL plus credentials. Missing or malformed config is not fatal:
// credentials come back empty and the URL falls back to the default port.
func (s *Settings) ResolveGateway() (url string, auth GatewayAuth) {
	port := DefaultGatewayPort

	data, err := os.ReadFile(s.Gateway.ConfigPath)
	if err == nil {
		var rc runtimeConfig
		if json.Unmarshal(data, &rc) == nil {
			if rc.Gateway.Port > 0 {
				port = rc.Gateway.Port
			}
			if rc.Gateway.Auth.Password != "" {
				auth.Password = rc.Gateway.Auth.Password
			} else if rc.Gateway.Auth.Token != "" {
				auth.Token = rc.Gateway.Auth.Token
			}
		}
	}

	url = s.Gateway.URL
	if url == "" {
		url = fmt.Sprintf("ws://127.0.0.1:%d", port)
	}
	return url, auth
}

// ExpandTilde expands a leading ~/ to the user's home directory.
func ExpandTilde(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
