package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
)

func statusCmd() *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check configuration, providers, channels and stored state",
		Run: func(cmd *cobra.Command, args []string) {
			runStatus(probe)
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "probe each provider's models endpoint")
	return cmd
}

func runStatus(probe bool) {
	fmt.Println("tinyclaw status")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ws := cfg.WorkspacePath()
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND — created on first run)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("  Providers:")
	reg := providers.NewRegistry(cfg)
	checkProviderKey("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProviderKey("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProviderKey("DeepSeek", cfg.Providers.DeepSeek.APIKey)
	checkProviderKey("Groq", cfg.Providers.Groq.APIKey)
	checkProviderKey("Zhipu", cfg.Providers.Zhipu.APIKey)
	if cfg.Providers.Ollama.APIBase != "" {
		fmt.Printf("    %-12s %s (no key needed)\n", "Ollama:", cfg.Providers.Ollama.APIBase)
	} else {
		fmt.Printf("    %-12s (not configured)\n", "Ollama:")
	}
	fmt.Printf("    %-12s %s (model %s)\n", "Default:", cfg.Agent.Provider, cfg.Agent.Model)

	if probe {
		fmt.Println()
		fmt.Println("  Reachability:")
		for _, name := range reg.List() {
			probeProvider(reg, name)
		}
		if len(reg.List()) == 0 {
			fmt.Println("    (no providers configured)")
		}
	}

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("WhatsApp", cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.BridgeURL != "")
	checkChannel("Feishu", cfg.Channels.Feishu.Enabled, cfg.Channels.Feishu.AppID != "")
	checkChannel("DingTalk", cfg.Channels.DingTalk.Enabled, cfg.Channels.DingTalk.WebhookURL != "")
	checkChannel("QQ", cfg.Channels.QQ.Enabled, cfg.Channels.QQ.APIBase != "")
	checkChannel("Camera", cfg.Channels.Camera.Enabled, cfg.Channels.Camera.Port > 0)

	fmt.Println()
	fmt.Println("  Store:")
	backend := cfg.Store.Backend
	if backend == "" {
		backend = "file"
	}
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	sess, cronStore, closeStores, err := openStores(cfg, ws)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		defer closeStores()
		fmt.Printf("    %-12s %d\n", "Sessions:", len(sess.Keys()))
		jobs, err := cronStore.Load()
		if err != nil {
			fmt.Printf("    %-12s LOAD FAILED (%s)\n", "Cron jobs:", err)
		} else {
			fmt.Printf("    %-12s %d\n", "Cron jobs:", len(jobs))
		}
	}

	fmt.Println()
	checkRunningGateway(cfg)
}

func checkProviderKey(name, apiKey string) {
	if apiKey != "" && len(apiKey) >= 8 {
		masked := apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
		fmt.Printf("    %-12s %s\n", name+":", masked)
	} else if apiKey != "" {
		fmt.Printf("    %-12s %s\n", name+":", strings.Repeat("*", len(apiKey)))
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}

func probeProvider(reg *providers.Registry, name string) {
	p, err := reg.Get(name)
	if err != nil {
		return
	}
	oai, ok := p.(*providers.OpenAIProvider)
	if !ok {
		return
	}
	if err := oai.Probe(context.Background()); err != nil {
		fmt.Printf("    %-12s UNREACHABLE (%s)\n", name+":", err)
	} else {
		fmt.Printf("    %-12s OK (%s)\n", name+":", oai.APIBase())
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

// checkRunningGateway asks a local gateway for its live status. Silence is
// normal when none is running.
func checkRunningGateway(cfg *config.Config) {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d/status", host, cfg.Gateway.Port)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("  Gateway:   not running")
		return
	}
	defer resp.Body.Close()

	var body struct {
		Status   string          `json:"status"`
		Uptime   string          `json:"uptime"`
		Channels map[string]bool `json:"channels"`
		Sessions int             `json:"sessions"`
		Jobs     int             `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		fmt.Printf("  Gateway:   responded with errors (%s)\n", url)
		return
	}

	running := make([]string, 0, len(body.Channels))
	for name, up := range body.Channels {
		if up {
			running = append(running, name)
		}
	}
	fmt.Printf("  Gateway:   running (up %s, %d sessions, %d jobs, channels: %s)\n",
		body.Uptime, body.Sessions, body.Jobs, strings.Join(running, ", "))
}
