package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/Leavesfly/TinyClaw-sub001/internal/agent"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/memory"
	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
	"github.com/Leavesfly/TinyClaw-sub001/internal/security"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
	"github.com/Leavesfly/TinyClaw-sub001/internal/skills"
	"github.com/Leavesfly/TinyClaw-sub001/internal/tools"
)

func agentCmd() *cobra.Command {
	var (
		message    string
		sessionKey string
		attach     bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Chat with the agent from the terminal",
		Long: `Chat with the agent: one-shot with -m, interactive REPL without.

By default the agent loop runs in-process. With --attach the command dials
the console websocket of a running gateway instead, sharing its sessions
and tools.

Examples:
  tinyclaw agent                       # interactive REPL
  tinyclaw agent -m "What time is it?" # one-shot message
  tinyclaw agent -s telegram:42        # continue a channel session
  tinyclaw agent --attach              # REPL against the running gateway`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentChat(message, sessionKey, attach)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session key (default: cli:local)")
	cmd.Flags().BoolVar(&attach, "attach", false, "connect to a running gateway instead of running standalone")

	return cmd
}

func runAgentChat(message, sessionKey string, attach bool) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if sessionKey == "" {
		sessionKey = sessions.SessionKey("cli", "local")
	}

	if attach {
		return runAttached(cfg, message, sessionKey)
	}
	return runStandalone(cfg, message, sessionKey)
}

func runStandalone(cfg *config.Config, message, sessionKey string) error {
	loop, err := buildStandaloneLoop(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if message != "" {
		return oneShot(ctx, loop, message, sessionKey)
	}

	fmt.Fprintf(os.Stderr, "\nTinyClaw chat — standalone\n")
	fmt.Fprintf(os.Stderr, "Model: %s | Session: %s\n", loop.Model(), sessionKey)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a fresh session\n\n")

	youPrompt, botPrompt := replPrompts(loop.Model())
	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return nil
		default:
		}

		fmt.Fprint(os.Stderr, youPrompt)
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return nil
		}
		if input == "/new" {
			sessionKey = sessions.SessionKey("cli", uuid.NewString()[:8])
			fmt.Fprintf(os.Stderr, "New session: %s\n\n", sessionKey)
			continue
		}

		fmt.Print(botPrompt)
		_, err := loop.ProcessDirectStream(ctx, input, sessionKey, func(chunk string) {
			fmt.Print(chunk)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
			continue
		}
		fmt.Print("\n\n")
	}
}

func oneShot(ctx context.Context, loop *agent.Loop, message, sessionKey string) error {
	streamed := false
	_, err := loop.ProcessDirectStream(ctx, message, sessionKey, func(chunk string) {
		streamed = true
		fmt.Print(chunk)
	})
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if streamed {
		fmt.Println()
	}
	return nil
}

// replPrompts returns "you"/model prompts padded to the same display width.
// Model labels can carry wide runes, so alignment is by cells, not bytes.
func replPrompts(model string) (you, bot string) {
	label := runewidth.Truncate(model, 16, "…")
	w := runewidth.StringWidth("You")
	if lw := runewidth.StringWidth(label); lw > w {
		w = lw
	}
	return runewidth.FillLeft("You", w) + ": ", runewidth.FillLeft(label, w) + ": "
}

// buildStandaloneLoop assembles a minimal in-process agent: provider, file
// and exec tools behind the guard, web tools, skills, and memory context.
// Channel-facing tools (message, cron, spawn) need the gateway and are left
// out here.
func buildStandaloneLoop(cfg *config.Config) (*agent.Loop, error) {
	workspace := cfg.WorkspacePath()
	if !filepath.IsAbs(workspace) {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace: %w", err)
		}
		workspace = abs
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	registry := providers.NewRegistry(cfg)
	provider, err := registry.Get(cfg.Agent.Provider)
	if err != nil {
		return nil, fmt.Errorf("no usable provider (run 'tinyclaw onboard' first): %w", err)
	}

	guard, err := security.NewGuard(security.Policy{
		WorkspaceRoot:       workspace,
		RestrictToWorkspace: cfg.Security.RestrictToWorkspace,
		CommandBlacklist:    cfg.Security.CommandBlacklist,
	})
	if err != nil {
		return nil, fmt.Errorf("security guard: %w", err)
	}

	reg := tools.NewRegistry()
	reg.Register(tools.NewReadFileTool(guard))
	reg.Register(tools.NewWriteFileTool(guard))
	reg.Register(tools.NewAppendFileTool(guard))
	reg.Register(tools.NewEditFileTool(guard))
	reg.Register(tools.NewListDirTool(guard))
	reg.Register(tools.NewExecTool(guard, time.Duration(cfg.Tools.Exec.TimeoutSec)*time.Second))
	reg.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey: cfg.Tools.Web.Brave.APIKey,
		MaxResults:  cfg.Tools.Web.MaxResults,
	}))
	reg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))
	reg.Register(tools.NewReadImageTool(guard, registry, cfg.Agent.Provider))

	sess := sessions.NewManager(filepath.Join(workspace, "sessions"))

	return agent.New(agent.Config{
		Provider:      provider,
		Model:         cfg.Agent.Model,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		ContextWindow: cfg.Agent.ContextWindow,
		MaxIterations: cfg.Agent.MaxToolIterations,
		Workspace:     workspace,
		Sessions:      sess,
		Tools:         reg,
		Skills:        skills.NewLoader(workspace),
		Memory:        memory.NewStore(workspace),
	}), nil
}
