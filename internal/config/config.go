package config

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON. Allow-lists in
// hand-written configs frequently carry numeric chat IDs without quotes.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the TinyClaw gateway.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Heartbeat HeartbeatConfig `json:"heartbeat,omitempty"`
	Security  SecurityConfig  `json:"security"`
	Tools     ToolsConfig     `json:"tools,omitempty"`
	Store     StoreConfig     `json:"store,omitempty"`
	MCP       MCPConfig       `json:"mcp,omitempty"`
	Tracing   TracingConfig   `json:"tracing,omitempty"`
}

// AgentConfig holds the model and loop settings for the single resident agent.
type AgentConfig struct {
	Workspace         string  `json:"workspace"`
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"`
	ContextWindow     int     `json:"context_window"`
}

// ProvidersConfig holds one entry per OpenAI-compatible backend plus an
// explicit model→provider routing table. A model name absent from Models
// resolves to Agent.Provider; there is no substring guessing.
type ProvidersConfig struct {
	OpenAI     ProviderConfig    `json:"openai,omitempty"`
	OpenRouter ProviderConfig    `json:"openrouter,omitempty"`
	DeepSeek   ProviderConfig    `json:"deepseek,omitempty"`
	Groq       ProviderConfig    `json:"groq,omitempty"`
	Zhipu      ProviderConfig    `json:"zhipu,omitempty"`
	Ollama     ProviderConfig    `json:"ollama,omitempty"`
	Models     map[string]string `json:"models,omitempty"`
}

// ProviderConfig is the per-backend credential block. APIBase empty means
// the provider's well-known default endpoint.
type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ChannelsConfig enables and configures each chat transport.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Feishu   FeishuConfig   `json:"feishu,omitempty"`
	DingTalk DingTalkConfig `json:"dingtalk,omitempty"`
	QQ       QQConfig       `json:"qq,omitempty"`
	Camera   CameraConfig   `json:"camera,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	Token     string              `json:"token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	Token     string              `json:"token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// WhatsAppConfig points at a local bridge process that owns the WhatsApp Web
// session; the channel talks to the bridge over a websocket.
type WhatsAppConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	BridgeURL string              `json:"bridge_url,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type FeishuConfig struct {
	Enabled           bool                `json:"enabled,omitempty"`
	AppID             string              `json:"app_id,omitempty"`
	AppSecret         string              `json:"app_secret,omitempty"`
	VerificationToken string              `json:"verification_token,omitempty"`
	Domain            string              `json:"domain,omitempty"` // "feishu" (default) or "lark"
	AllowFrom         FlexibleStringSlice `json:"allow_from,omitempty"`
}

// DingTalkConfig configures the DingTalk robot. Outbound replies go to the
// group webhook URL signed with Secret; inbound arrives via /webhook/dingtalk.
type DingTalkConfig struct {
	Enabled    bool                `json:"enabled,omitempty"`
	WebhookURL string              `json:"webhook_url,omitempty"`
	Secret     string              `json:"secret,omitempty"`
	AllowFrom  FlexibleStringSlice `json:"allow_from,omitempty"`
}

type QQConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	APIBase   string              `json:"api_base,omitempty"`
	Token     string              `json:"token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// CameraConfig configures the websocket accept server for camera devices.
type CameraConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	Port      int                 `json:"port,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type GatewayConfig struct {
	Host      string          `json:"host"`
	Port      int             `json:"port"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener. Requires building
// with -tags tsnet. Auth key from env only, never persisted.
type TailscaleConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// HeartbeatConfig configures the periodic self-prompt. Every is a Go
// duration string; "0" or empty disables.
type HeartbeatConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Every   string `json:"every,omitempty"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// SecurityConfig feeds the sandbox guard. An empty CommandBlacklist means
// "use the built-in defaults"; a non-empty list replaces them entirely.
type SecurityConfig struct {
	RestrictToWorkspace bool     `json:"restrict_to_workspace"`
	CommandBlacklist    []string `json:"command_blacklist,omitempty"`
}

type ToolsConfig struct {
	Exec    ExecToolConfig    `json:"exec,omitempty"`
	Web     WebToolsConfig    `json:"web,omitempty"`
	Browser BrowserToolConfig `json:"browser,omitempty"`
}

type ExecToolConfig struct {
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

type WebToolsConfig struct {
	MaxResults int         `json:"max_results,omitempty"`
	Brave      BraveConfig `json:"brave,omitempty"`
}

// BraveConfig holds the optional Brave Search key; without it web_search
// falls back to DuckDuckGo.
type BraveConfig struct {
	APIKey string `json:"api_key,omitempty"`
}

type BrowserToolConfig struct {
	Enabled  bool `json:"enabled,omitempty"`
	Headless bool `json:"headless,omitempty"`
}

// StoreConfig selects session/cron persistence. Backend "file" (default)
// keeps JSON documents under the workspace; "postgres" uses PostgresDSN.
// The DSN is never read from config.json — env TINYCLAW_STORE_POSTGRES_DSN only.
type StoreConfig struct {
	Backend     string `json:"backend,omitempty"`
	PostgresDSN string `json:"-"`
}

// MCPConfig lists external MCP servers whose tools are bridged into the
// agent's registry.
type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers,omitempty"`
}

type MCPServerConfig struct {
	Name       string            `json:"name"`
	Transport  string            `json:"transport,omitempty"` // stdio | sse | streamable-http
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	AllowTools []string          `json:"allow_tools,omitempty"`
	DenyTools  []string          `json:"deny_tools,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// TracingConfig configures OTLP span export. Disabled means a no-op tracer.
type TracingConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // grpc (default) | http
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ProviderByName returns the credential block for a registry name.
func (c *Config) ProviderByName(name string) (ProviderConfig, bool) {
	switch name {
	case "openai":
		return c.Providers.OpenAI, true
	case "openrouter":
		return c.Providers.OpenRouter, true
	case "deepseek":
		return c.Providers.DeepSeek, true
	case "groq":
		return c.Providers.Groq, true
	case "zhipu":
		return c.Providers.Zhipu, true
	case "ollama":
		return c.Providers.Ollama, true
	}
	return ProviderConfig{}, false
}

// ResolveProvider maps a model name to a provider name using the explicit
// routing table, falling back to the configured default provider.
func (c *Config) ResolveProvider(model string) string {
	if p, ok := c.Providers.Models[model]; ok && p != "" {
		return p
	}
	return c.Agent.Provider
}
