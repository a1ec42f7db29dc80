package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bootstrap"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
)

// providerChoice is one selectable backend in the onboard wizard.
type providerChoice struct {
	name      string
	label     string
	modelHint string
	keyless   bool
}

var providerChoices = []providerChoice{
	{name: "openai", label: "OpenAI", modelHint: "gpt-4o-mini"},
	{name: "openrouter", label: "OpenRouter", modelHint: "anthropic/claude-sonnet-4"},
	{name: "deepseek", label: "DeepSeek", modelHint: "deepseek-chat"},
	{name: "groq", label: "Groq", modelHint: "llama-3.3-70b-versatile"},
	{name: "zhipu", label: "Zhipu (GLM)", modelHint: "glm-4-plus"},
	{name: "ollama", label: "Ollama (local)", modelHint: "llama3.1", keyless: true},
}

func providerChoiceByName(name string) providerChoice {
	for _, pc := range providerChoices {
		if pc.name == name {
			return pc
		}
	}
	return providerChoice{name: name}
}

func onboardCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		Long: `Walks through provider, model, workspace, and channel selection, writes
~/.tinyclaw/config.json, and seeds the workspace guide files.

Credentials can be left empty and supplied later via TINYCLAW_* env vars.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-run setup even if a config file exists")
	return cmd
}

func runOnboard(force bool) error {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil && !force {
		fmt.Printf("Config already exists at %s — run with --force to start over.\n", cfgPath)
		return nil
	}

	cfg := config.Default()

	// Step 1: provider. Chosen first so the follow-up form can suggest a
	// model that actually exists on that backend.
	providerName := cfg.Agent.Provider
	providerOpts := make([]huh.Option[string], 0, len(providerChoices))
	for _, pc := range providerChoices {
		providerOpts = append(providerOpts, huh.NewOption(pc.label, pc.name))
	}

	providerForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Description("The OpenAI-compatible backend the agent talks to.").
				Options(providerOpts...).
				Value(&providerName),
		),
	)
	if err := providerForm.Run(); err != nil {
		return fmt.Errorf("onboard cancelled: %w", err)
	}
	choice := providerChoiceByName(providerName)

	// Step 2: credentials, model, workspace, channels.
	var (
		apiKey    string
		model     string
		workspace = cfg.Agent.Workspace
		enabled   []string
	)

	keyDesc := "Stored in config.json (mode 0600). Leave empty to set " +
		providerKeyEnv(providerName) + " instead."
	if choice.keyless {
		keyDesc = "Not required for a local backend. Leave empty."
	}

	setupForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API key").
				Description(keyDesc).
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().
				Title("Model").
				Description("Empty uses the suggested default.").
				Placeholder(choice.modelHint).
				Value(&model),
			huh.NewInput().
				Title("Workspace directory").
				Description("Where the agent keeps its guide files, memory, and sessions.").
				Value(&workspace).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("workspace must not be empty")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Channels to enable").
				Description("Each channel reads its credentials from config.json or TINYCLAW_CHANNELS_* env vars.").
				Options(
					huh.NewOption("Telegram", "telegram"),
					huh.NewOption("Discord", "discord"),
					huh.NewOption("WhatsApp (bridge)", "whatsapp"),
					huh.NewOption("Feishu / Lark", "feishu"),
					huh.NewOption("DingTalk", "dingtalk"),
					huh.NewOption("QQ", "qq"),
					huh.NewOption("Camera devices", "camera"),
				).
				Value(&enabled),
		),
	)
	if err := setupForm.Run(); err != nil {
		return fmt.Errorf("onboard cancelled: %w", err)
	}

	cfg.Agent.Provider = providerName
	if model == "" {
		model = choice.modelHint
	}
	cfg.Agent.Model = model
	cfg.Agent.Workspace = strings.TrimSpace(workspace)
	applyProviderKey(cfg, providerName, apiKey)
	applyChannelToggles(cfg, enabled)

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("\nConfig saved to %s\n", cfgPath)

	seeded, err := bootstrap.EnsureWorkspace(cfg.WorkspacePath())
	if err != nil {
		return fmt.Errorf("seed workspace: %w", err)
	}
	if len(seeded) > 0 {
		fmt.Printf("Workspace seeded at %s (%s)\n", cfg.WorkspacePath(), strings.Join(seeded, ", "))
	} else {
		fmt.Printf("Workspace at %s already populated, nothing seeded\n", cfg.WorkspacePath())
	}

	if apiKey == "" && !choice.keyless {
		fmt.Printf("\nNo API key entered. Export it before starting:\n  export %s=sk-...\n", providerKeyEnv(providerName))
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  tinyclaw agent -m \"hello\"   # one-shot chat")
	fmt.Println("  tinyclaw gateway            # start the daemon")
	return nil
}

// providerKeyEnv returns the env override name for a provider's API key.
func providerKeyEnv(name string) string {
	return "TINYCLAW_PROVIDERS_" + strings.ToUpper(name) + "_API_KEY"
}

func applyProviderKey(cfg *config.Config, name, key string) {
	if key == "" {
		return
	}
	switch name {
	case "openai":
		cfg.Providers.OpenAI.APIKey = key
	case "openrouter":
		cfg.Providers.OpenRouter.APIKey = key
	case "deepseek":
		cfg.Providers.DeepSeek.APIKey = key
	case "groq":
		cfg.Providers.Groq.APIKey = key
	case "zhipu":
		cfg.Providers.Zhipu.APIKey = key
	}
}

func applyChannelToggles(cfg *config.Config, enabled []string) {
	for _, name := range enabled {
		switch name {
		case "telegram":
			cfg.Channels.Telegram.Enabled = true
		case "discord":
			cfg.Channels.Discord.Enabled = true
		case "whatsapp":
			cfg.Channels.WhatsApp.Enabled = true
		case "feishu":
			cfg.Channels.Feishu.Enabled = true
		case "dingtalk":
			cfg.Channels.DingTalk.Enabled = true
		case "qq":
			cfg.Channels.QQ.Enabled = true
		case "camera":
			cfg.Channels.Camera.Enabled = true
		}
	}
}
