package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Leavesfly/TinyClaw-sub001/internal/agent"
	"github.com/Leavesfly/TinyClaw-sub001/internal/bootstrap"
	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/gateway"
	"github.com/Leavesfly/TinyClaw-sub001/internal/mcp"
	"github.com/Leavesfly/TinyClaw-sub001/internal/memory"
	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
	"github.com/Leavesfly/TinyClaw-sub001/internal/security"
	"github.com/Leavesfly/TinyClaw-sub001/internal/skills"
	"github.com/Leavesfly/TinyClaw-sub001/internal/tools"
	"github.com/Leavesfly/TinyClaw-sub001/internal/tracing"
)

// drainGrace is how long in-flight agent turns may keep running after the
// shutdown signal before their context is cancelled.
const drainGrace = 30 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway daemon",
		Long:  "Runs the resident agent: chat channels, the tool-calling loop, the cron scheduler, and the HTTP console in one process.",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config.load_failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	// First run with nothing configured: point at the wizard instead of
	// starting a gateway that cannot answer anyone.
	if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) && !hasAnyProviderKey(cfg) {
		fmt.Println("No configuration found. Run 'tinyclaw onboard' first,")
		fmt.Println("or export TINYCLAW_PROVIDERS_<NAME>_API_KEY and retry.")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing first so every later component lands spans on a real provider.
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Warn("tracing.setup_failed", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				slog.Warn("tracing.shutdown_failed", "error", err)
			}
		}()
	}

	workspace := cfg.WorkspacePath()
	if !filepath.IsAbs(workspace) {
		if abs, absErr := filepath.Abs(workspace); absErr == nil {
			workspace = abs
		}
	}
	seeded, err := bootstrap.EnsureWorkspace(workspace)
	if err != nil {
		slog.Error("workspace.seed_failed", "workspace", workspace, "error", err)
		os.Exit(1)
	}
	if len(seeded) > 0 {
		slog.Info("workspace.seeded", "files", seeded)
	}

	guard, err := security.NewGuard(security.Policy{
		WorkspaceRoot:       workspace,
		RestrictToWorkspace: cfg.Security.RestrictToWorkspace,
		CommandBlacklist:    cfg.Security.CommandBlacklist,
	})
	if err != nil {
		slog.Error("security.guard_failed", "error", err)
		os.Exit(1)
	}

	sess, cronStore, closeStores, err := openStores(cfg, workspace)
	if err != nil {
		slog.Error("store.open_failed", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStores()

	providerReg := providers.NewRegistry(cfg)
	provider, err := providerReg.Get(cfg.Agent.Provider)
	if err != nil {
		slog.Error("providers.unavailable", "provider", cfg.Agent.Provider, "error", err)
		fmt.Println("No usable LLM provider. Run 'tinyclaw onboard' or set an API key env var.")
		os.Exit(1)
	}

	msgBus := bus.New()
	memStore := memory.NewStore(workspace)

	reg, toolCleanup := buildToolRegistry(cfg, guard, workspace, msgBus, memStore, sess, providerReg)
	defer toolCleanup()

	skillsLoader := skills.NewLoader(workspace)
	if err := skillsLoader.Watch(ctx); err != nil {
		slog.Warn("skills.watch_unavailable", "error", err)
	}
	defer skillsLoader.Close()

	var mcpMgr *mcp.Manager
	if len(cfg.MCP.Servers) > 0 {
		mcpMgr = mcp.NewManager(reg, cfg.MCP.Servers)
		if err := mcpMgr.Start(ctx); err != nil {
			slog.Warn("mcp.startup_errors", "error", err)
		}
		defer mcpMgr.Stop()
	}

	loop := agent.New(agent.Config{
		Provider:      provider,
		Model:         cfg.Agent.Model,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		ContextWindow: cfg.Agent.ContextWindow,
		MaxIterations: cfg.Agent.MaxToolIterations,
		Workspace:     workspace,
		Sessions:      sess,
		Tools:         reg,
		Bus:           msgBus,
		Skills:        skillsLoader,
		Memory:        memStore,
		Events:        msgBus,
	})

	// The spawn tool registers before the loop exists; wire its runner now
	// that it does.
	if t, ok := reg.Get("spawn").(*tools.SpawnTool); ok && t != nil {
		t.SetRunner(loop)
	}

	manager := buildChannelManager(cfg, msgBus, filepath.Join(workspace, "media"))

	if t, ok := reg.Get("message").(*tools.MessageTool); ok && t != nil {
		t.SetChannelCheck(func(name string) bool {
			_, registered := manager.Get(name)
			return registered
		})
	}

	sched := buildScheduler(cronStore, loop, msgBus)
	reg.Register(tools.NewCronTool(sched))

	server := gateway.NewServer(cfg, msgBus, loop, manager, sess, sched)
	hb := buildHeartbeat(cfg, loop, msgBus, memStore, workspace)

	slog.Info("gateway.starting",
		"version", Version,
		"model", cfg.Agent.Model,
		"workspace", workspace,
		"tools", len(reg.List()),
		"channels", manager.Names(),
	)

	// Channels start before the loop so the dispatch worker is already
	// consuming when the first reply is published.
	if err := manager.StartAll(ctx); err != nil {
		slog.Error("channels.start_failed", "error", err)
	}
	sched.Start(ctx)
	if hb != nil {
		hb.Start(ctx)
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		return server.Start(runCtx)
	})

	runErr := g.Wait()

	// Reverse-order teardown: stop intake (channels, cron, heartbeat)
	// before draining the loop, so nothing new queues while in-flight
	// turns finish.
	slog.Info("gateway.stopping")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.StopAll(stopCtx); err != nil {
		slog.Warn("channels.stop_failed", "error", err)
	}
	sched.Stop()
	if hb != nil {
		hb.Stop()
	}
	loop.Drain(drainGrace)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("gateway.exit_error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("gateway.stopped")
}

// hasAnyProviderKey reports whether any backend has a credential, after env
// overlays. Ollama counts when an api_base is set since it needs no key.
func hasAnyProviderKey(cfg *config.Config) bool {
	return cfg.Providers.OpenAI.APIKey != "" ||
		cfg.Providers.OpenRouter.APIKey != "" ||
		cfg.Providers.DeepSeek.APIKey != "" ||
		cfg.Providers.Groq.APIKey != "" ||
		cfg.Providers.Zhipu.APIKey != "" ||
		cfg.Providers.Ollama.APIBase != ""
}
