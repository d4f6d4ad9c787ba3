package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	semver "github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port           int       `yaml:"port"`
	Production     bool      `yaml:"production"`
	PublicURL      string    `yaml:"public_url"`
	AllowedOrigins []string  `yaml:"allowed_origins"`
	StrictOrigin   bool      `yaml:"strict_origin"`
	TrustProxy     bool      `yaml:"trust_proxy"`
	TLS            TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

type IngestConfig struct {
	SecretKey string `yaml:"secret_key"`
}

type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	ServerURL string   `yaml:"server_url"`
	ClientID  string   `yaml:"client_id"`
	Scopes    []string `yaml:"scopes"`
}

type MonitorConfig struct {
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
	StaleAfterSec    int `yaml:"stale_after_sec"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PanelInfo struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	MinRigVersion string `yaml:"min_rig_version"`
}

type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

type NotifyConfig struct {
	Discord DiscordConfig `yaml:"discord"`
}

type PanelConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Auth     AuthConfig     `yaml:"auth"`
	Rigs     []string       `yaml:"rigs"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Database DatabaseConfig `yaml:"database"`
	Panel    PanelInfo      `yaml:"panel"`
	Notify   NotifyConfig   `yaml:"notify"`
}

const (
	defaultPort             = 3000
	defaultSweepIntervalSec = 5
	defaultStaleAfterSec    = 10
	defaultPanelName        = "rider-agent-panel"
	defaultPanelDescription = "Live status and logs for the sim rig fleet"
)

var defaultScopes = []string{"openid", "profile"}

// SweepInterval is how often the staleness monitor runs.
func (c *PanelConfig) SweepInterval() time.Duration {
	return time.Duration(c.Monitor.SweepIntervalSec) * time.Second
}

// StaleAfter is the quiet period after which an online rig is demoted.
func (c *PanelConfig) StaleAfter() time.Duration {
	return time.Duration(c.Monitor.StaleAfterSec) * time.Second
}

// DefaultPanelConfig returns the configuration used when no file is present.
func DefaultPanelConfig() PanelConfig {
	return PanelConfig{
		Server: ServerConfig{Port: defaultPort},
		Auth: AuthConfig{
			Enabled: true,
			Scopes:  append([]string(nil), defaultScopes...),
		},
		Monitor: MonitorConfig{
			SweepIntervalSec: defaultSweepIntervalSec,
			StaleAfterSec:    defaultStaleAfterSec,
		},
		Panel: PanelInfo{
			Name:        defaultPanelName,
			Description: defaultPanelDescription,
		},
	}
}

// LoadPanelConfig reads the optional YAML file at path, overlays the process
// environment and validates the result. A missing file is not an error.
func LoadPanelConfig(path string) (*PanelConfig, error) {
	cfg := DefaultPanelConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := validatePanelConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *PanelConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("validation error: PORT must be an integer, got %q", v)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("NODE_ENV"); ok && v != "" {
		cfg.Server.Production = v == "production"
	}
	if v, ok := lookup("TRUST_PROXY"); ok && v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("validation error: TRUST_PROXY must be a boolean, got %q", v)
		}
		cfg.Server.TrustProxy = trust
	}
	if v, ok := lookup("PUBLIC_URL"); ok && v != "" {
		cfg.Server.PublicURL = v
	}
	if v, ok := lookup("SECRET_KEY"); ok && v != "" {
		cfg.Ingest.SecretKey = v
	}
	if v, ok := lookup("AUTH_ENABLED"); ok && v != "" {
		cfg.Auth.Enabled = !strings.EqualFold(v, "false")
	}
	if v, ok := lookup("AUTH_SERVER_URL"); ok && v != "" {
		cfg.Auth.ServerURL = v
	}
	if v, ok := lookup("AUTH_CLIENT_ID"); ok && v != "" {
		cfg.Auth.ClientID = v
	}
	if v, ok := lookup("SIM_RIGS"); ok && v != "" {
		cfg.Rigs = splitList(v)
	}
	if v, ok := lookup("DATABASE_PATH"); ok && v != "" {
		cfg.Database.Path = v
	}
	if v, ok := lookup("DISCORD_BOT_TOKEN"); ok && v != "" {
		cfg.Notify.Discord.BotToken = v
	}
	if v, ok := lookup("DISCORD_CHANNEL_ID"); ok && v != "" {
		cfg.Notify.Discord.ChannelID = v
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validatePanelConfig(cfg *PanelConfig) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("validation error: server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.PublicURL != "" {
		if err := validateHTTPURL(cfg.Server.PublicURL); err != nil {
			return fmt.Errorf("validation error: server.public_url %w", err)
		}
	}
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertPath == "" {
			return fmt.Errorf("validation error: server.tls.cert_path is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyPath == "" {
			return fmt.Errorf("validation error: server.tls.key_path is required when TLS is enabled")
		}
	}

	if cfg.Ingest.SecretKey == "" {
		return fmt.Errorf("validation error: ingest.secret_key is required")
	}

	if len(cfg.Rigs) == 0 {
		return fmt.Errorf("validation error: rigs must list at least one rig id")
	}
	seen := make(map[string]struct{}, len(cfg.Rigs))
	for i, id := range cfg.Rigs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("validation error: rigs[%d] must not be empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("validation error: rigs contains duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}

	if cfg.Monitor.SweepIntervalSec <= 0 {
		cfg.Monitor.SweepIntervalSec = defaultSweepIntervalSec
	}
	if cfg.Monitor.StaleAfterSec <= 0 {
		cfg.Monitor.StaleAfterSec = defaultStaleAfterSec
	}
	if cfg.Monitor.StaleAfterSec <= cfg.Monitor.SweepIntervalSec {
		return fmt.Errorf("validation error: monitor.stale_after_sec must be greater than monitor.sweep_interval_sec (%d), got %d",
			cfg.Monitor.SweepIntervalSec, cfg.Monitor.StaleAfterSec)
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.ServerURL == "" {
			return fmt.Errorf("validation error: auth.server_url is required when auth is enabled")
		}
		if err := validateHTTPURL(cfg.Auth.ServerURL); err != nil {
			return fmt.Errorf("validation error: auth.server_url %w", err)
		}
		if cfg.Auth.ClientID == "" {
			return fmt.Errorf("validation error: auth.client_id is required when auth is enabled")
		}
	}
	if len(cfg.Auth.Scopes) == 0 {
		cfg.Auth.Scopes = append([]string(nil), defaultScopes...)
	}

	if cfg.Panel.Name == "" {
		cfg.Panel.Name = defaultPanelName
	}
	if cfg.Panel.MinRigVersion != "" {
		if _, err := semver.NewConstraint(cfg.Panel.MinRigVersion); err != nil {
			return fmt.Errorf("validation error: panel.min_rig_version must be valid semver constraint: %v", err)
		}
	}

	if cfg.Notify.Discord.BotToken != "" && cfg.Notify.Discord.ChannelID == "" {
		return fmt.Errorf("validation error: notify.discord.channel_id is required when bot_token is set")
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host, got %q", raw)
	}
	return nil
}
