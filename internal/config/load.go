package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:         "~/.tinyclaw/workspace",
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			MaxTokens:         4096,
			Temperature:       0.7,
			MaxToolIterations: 20,
			ContextWindow:     128000,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18760,
		},
		Heartbeat: HeartbeatConfig{
			Every: "30m",
		},
		Security: SecurityConfig{
			RestrictToWorkspace: true,
		},
		Tools: ToolsConfig{
			Exec: ExecToolConfig{TimeoutSec: 60},
			Web:  WebToolsConfig{MaxResults: 5},
			Browser: BrowserToolConfig{
				Headless: true,
			},
		},
		Store: StoreConfig{
			Backend: "file",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configs the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Agent.Workspace == "" {
		return fmt.Errorf("config: agent.workspace must not be empty")
	}
	if c.Agent.MaxToolIterations < 1 {
		return fmt.Errorf("config: agent.max_tool_iterations must be >= 1")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config: gateway.port %d out of range", c.Gateway.Port)
	}
	switch c.Store.Backend {
	case "", "file", "postgres":
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}
	return nil
}

// applyEnvOverrides overlays TINYCLAW_* env vars onto the config. Env vars
// take precedence over file values; the name mirrors the config path in
// upper snake case (TINYCLAW_PROVIDERS_OPENAI_API_KEY).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Agent
	envStr("TINYCLAW_AGENT_WORKSPACE", &c.Agent.Workspace)
	envStr("TINYCLAW_AGENT_PROVIDER", &c.Agent.Provider)
	envStr("TINYCLAW_AGENT_MODEL", &c.Agent.Model)
	envInt("TINYCLAW_AGENT_MAX_TOKENS", &c.Agent.MaxTokens)
	envInt("TINYCLAW_AGENT_MAX_TOOL_ITERATIONS", &c.Agent.MaxToolIterations)
	envInt("TINYCLAW_AGENT_CONTEXT_WINDOW", &c.Agent.ContextWindow)

	// Providers
	envStr("TINYCLAW_PROVIDERS_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("TINYCLAW_PROVIDERS_OPENAI_API_BASE", &c.Providers.OpenAI.APIBase)
	envStr("TINYCLAW_PROVIDERS_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("TINYCLAW_PROVIDERS_OPENROUTER_API_BASE", &c.Providers.OpenRouter.APIBase)
	envStr("TINYCLAW_PROVIDERS_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("TINYCLAW_PROVIDERS_DEEPSEEK_API_BASE", &c.Providers.DeepSeek.APIBase)
	envStr("TINYCLAW_PROVIDERS_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("TINYCLAW_PROVIDERS_GROQ_API_BASE", &c.Providers.Groq.APIBase)
	envStr("TINYCLAW_PROVIDERS_ZHIPU_API_KEY", &c.Providers.Zhipu.APIKey)
	envStr("TINYCLAW_PROVIDERS_ZHIPU_API_BASE", &c.Providers.Zhipu.APIBase)
	envStr("TINYCLAW_PROVIDERS_OLLAMA_API_BASE", &c.Providers.Ollama.APIBase)

	// Channels — credentials via env auto-enable the channel.
	envStr("TINYCLAW_CHANNELS_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("TINYCLAW_CHANNELS_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("TINYCLAW_CHANNELS_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)
	envStr("TINYCLAW_CHANNELS_FEISHU_APP_ID", &c.Channels.Feishu.AppID)
	envStr("TINYCLAW_CHANNELS_FEISHU_APP_SECRET", &c.Channels.Feishu.AppSecret)
	envStr("TINYCLAW_CHANNELS_FEISHU_VERIFICATION_TOKEN", &c.Channels.Feishu.VerificationToken)
	envStr("TINYCLAW_CHANNELS_DINGTALK_WEBHOOK_URL", &c.Channels.DingTalk.WebhookURL)
	envStr("TINYCLAW_CHANNELS_DINGTALK_SECRET", &c.Channels.DingTalk.Secret)
	envStr("TINYCLAW_CHANNELS_QQ_API_BASE", &c.Channels.QQ.APIBase)
	envStr("TINYCLAW_CHANNELS_QQ_TOKEN", &c.Channels.QQ.Token)
	envInt("TINYCLAW_CHANNELS_CAMERA_PORT", &c.Channels.Camera.Port)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}
	if c.Channels.Feishu.AppID != "" && c.Channels.Feishu.AppSecret != "" {
		c.Channels.Feishu.Enabled = true
	}
	if c.Channels.DingTalk.WebhookURL != "" {
		c.Channels.DingTalk.Enabled = true
	}
	if c.Channels.QQ.Token != "" {
		c.Channels.QQ.Enabled = true
	}

	// Allow-lists from env, comma-separated.
	envList := func(key string, dst *FlexibleStringSlice) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.Split(v, ",")
		}
	}
	envList("TINYCLAW_CHANNELS_TELEGRAM_ALLOW_FROM", &c.Channels.Telegram.AllowFrom)
	envList("TINYCLAW_CHANNELS_DISCORD_ALLOW_FROM", &c.Channels.Discord.AllowFrom)
	envList("TINYCLAW_CHANNELS_WHATSAPP_ALLOW_FROM", &c.Channels.WhatsApp.AllowFrom)
	envList("TINYCLAW_CHANNELS_FEISHU_ALLOW_FROM", &c.Channels.Feishu.AllowFrom)
	envList("TINYCLAW_CHANNELS_DINGTALK_ALLOW_FROM", &c.Channels.DingTalk.AllowFrom)
	envList("TINYCLAW_CHANNELS_QQ_ALLOW_FROM", &c.Channels.QQ.AllowFrom)
	envList("TINYCLAW_CHANNELS_CAMERA_ALLOW_FROM", &c.Channels.Camera.AllowFrom)

	// Gateway
	envStr("TINYCLAW_GATEWAY_HOST", &c.Gateway.Host)
	envInt("TINYCLAW_GATEWAY_PORT", &c.Gateway.Port)
	envBool("TINYCLAW_GATEWAY_TAILSCALE_ENABLED", &c.Gateway.Tailscale.Enabled)
	envStr("TINYCLAW_GATEWAY_TAILSCALE_HOSTNAME", &c.Gateway.Tailscale.Hostname)
	envStr("TINYCLAW_GATEWAY_TAILSCALE_STATE_DIR", &c.Gateway.Tailscale.StateDir)
	envStr("TINYCLAW_GATEWAY_TAILSCALE_AUTH_KEY", &c.Gateway.Tailscale.AuthKey)

	// Heartbeat
	envBool("TINYCLAW_HEARTBEAT_ENABLED", &c.Heartbeat.Enabled)
	envStr("TINYCLAW_HEARTBEAT_EVERY", &c.Heartbeat.Every)
	envStr("TINYCLAW_HEARTBEAT_CHANNEL", &c.Heartbeat.Channel)
	envStr("TINYCLAW_HEARTBEAT_CHAT_ID", &c.Heartbeat.ChatID)

	// Security
	envBool("TINYCLAW_SECURITY_RESTRICT_TO_WORKSPACE", &c.Security.RestrictToWorkspace)

	// Tools
	envInt("TINYCLAW_TOOLS_EXEC_TIMEOUT_SEC", &c.Tools.Exec.TimeoutSec)
	envStr("TINYCLAW_TOOLS_WEB_BRAVE_API_KEY", &c.Tools.Web.Brave.APIKey)
	envBool("TINYCLAW_TOOLS_BROWSER_ENABLED", &c.Tools.Browser.Enabled)

	// Store
	envStr("TINYCLAW_STORE_BACKEND", &c.Store.Backend)
	envStr("TINYCLAW_STORE_POSTGRES_DSN", &c.Store.PostgresDSN)

	// Tracing
	envBool("TINYCLAW_TRACING_ENABLED", &c.Tracing.Enabled)
	envStr("TINYCLAW_TRACING_ENDPOINT", &c.Tracing.Endpoint)
	envStr("TINYCLAW_TRACING_PROTOCOL", &c.Tracing.Protocol)
	envBool("TINYCLAW_TRACING_INSECURE", &c.Tracing.Insecure)
	envStr("TINYCLAW_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
}

// Save writes the config as indented JSON. Secrets tagged json:"-" never
// reach disk.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	return ExpandHome(c.Agent.Workspace)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
