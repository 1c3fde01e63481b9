package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envWecomToken          = "WECOM_TOKEN"
	envWecomEncodingAESKey = "WECOM_ENCODING_AES_KEY"
	envWecomCorpID         = "WECOM_CORPID"
	envWecomCorpSecret     = "WECOM_CORP_SECRET"
	envRoad2allBaseURL     = "ROAD2ALL_BASE_URL"
	envRoad2allAPIKey      = "ROAD2ALL_API_KEY"
)

// DefaultAccountID names the implicit account backed by the channel-level
// credential fields.
const DefaultAccountID = "default"

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Resolver  ResolverConfig  `json:"resolver"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Images    ImagesConfig    `json:"images,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ResolverConfig selects the reply-resolution provider and its defaults.
type ResolverConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Workspace string `json:"workspace"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Username              string `json:"username"`
	PasswordEnv           string `json:"password_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Wecom WecomConfig `json:"wecom"`
}

// WecomAccountConfig holds the credentials and transport settings of one WeCom
// account. Zero-valued fields of a named account fall back to the top-level
// channel defaults.
type WecomAccountConfig struct {
	CorpID         string `json:"corpid,omitempty"`
	CorpSecret     string `json:"corpsecret,omitempty"`
	AgentID        int    `json:"agentid,omitempty"`
	Token          string `json:"token,omitempty"`
	EncodingAESKey string `json:"encoding_aes_key,omitempty"`

	// Generic webhook delivery, preferred over the official API when set.
	WebhookURL   string `json:"webhook_url,omitempty"`
	WebhookToken string `json:"webhook_token,omitempty"`

	// Official API endpoint, overridable for tests.
	APIBaseURL string `json:"api_base_url,omitempty"`

	SystemPrompt string `json:"system_prompt,omitempty"`
}

// WecomConfig configures the WeCom webhook channel.
type WecomConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen,omitempty"`

	WecomAccountConfig

	// Named accounts overlaying the defaults above.
	Accounts map[string]WecomAccountConfig `json:"accounts,omitempty"`

	DedupeTTLSeconds int `json:"dedupe_ttl_seconds,omitempty"`
	DedupeSweepAt    int `json:"dedupe_sweep_at,omitempty"`
}

// ImagesConfig configures the OpenAI-compatible image generation provider.
type ImagesConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	Size    string `json:"size,omitempty"`
}

// GatewayConfig configures health/readiness endpoint bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Account resolves the effective configuration for one account id, overlaying
// the named account's non-zero fields on the channel defaults.
func (c WecomConfig) Account(id string) WecomAccountConfig {
	resolved := c.WecomAccountConfig

	overlay, ok := c.Accounts[id]
	if !ok {
		return resolved
	}

	if overlay.CorpID != "" {
		resolved.CorpID = overlay.CorpID
	}
	if overlay.CorpSecret != "" {
		resolved.CorpSecret = overlay.CorpSecret
	}
	if overlay.AgentID != 0 {
		resolved.AgentID = overlay.AgentID
	}
	if overlay.Token != "" {
		resolved.Token = overlay.Token
	}
	if overlay.EncodingAESKey != "" {
		resolved.EncodingAESKey = overlay.EncodingAESKey
	}
	if overlay.WebhookURL != "" {
		resolved.WebhookURL = overlay.WebhookURL
	}
	if overlay.WebhookToken != "" {
		resolved.WebhookToken = overlay.WebhookToken
	}
	if overlay.APIBaseURL != "" {
		resolved.APIBaseURL = overlay.APIBaseURL
	}
	if overlay.SystemPrompt != "" {
		resolved.SystemPrompt = overlay.SystemPrompt
	}

	return resolved
}

// AccountIDs lists the configured account ids, always including the default.
func (c WecomConfig) AccountIDs() []string {
	ids := make([]string, 0, len(c.Accounts)+1)
	ids = append(ids, DefaultAccountID)
	for id := range c.Accounts {
		if id == DefaultAccountID {
			continue
		}
		ids = append(ids, id)
	}

	return ids
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects secret-bearing env settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	wecom := &cfg.Channels.Wecom
	if token := strings.TrimSpace(os.Getenv(envWecomToken)); token != "" {
		wecom.Token = token
	}
	if key := strings.TrimSpace(os.Getenv(envWecomEncodingAESKey)); key != "" {
		wecom.EncodingAESKey = key
	}
	if corpID := strings.TrimSpace(os.Getenv(envWecomCorpID)); corpID != "" {
		wecom.CorpID = corpID
	}
	if secret := strings.TrimSpace(os.Getenv(envWecomCorpSecret)); secret != "" {
		wecom.CorpSecret = secret
	}

	if baseURL := strings.TrimSpace(os.Getenv(envRoad2allBaseURL)); baseURL != "" {
		cfg.Images.BaseURL = baseURL
	}
	if apiKey := strings.TrimSpace(os.Getenv(envRoad2allAPIKey)); apiKey != "" {
		cfg.Images.APIKey = apiKey
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is WECOMGW_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("WECOMGW_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("WECOMGW_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
