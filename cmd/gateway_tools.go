package cmd

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/memory"
	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
	"github.com/Leavesfly/TinyClaw-sub001/internal/security"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
	"github.com/Leavesfly/TinyClaw-sub001/internal/tools"
	"github.com/Leavesfly/TinyClaw-sub001/pkg/browser"
)

// buildToolRegistry assembles every tool the gateway agent exposes. The
// cron tool is registered later, once the scheduler exists; the spawn and
// message tools get their late wiring in runGateway for the same reason.
// The returned cleanup releases the memory index and the browser process.
func buildToolRegistry(cfg *config.Config, guard *security.Guard, workspace string, msgBus *bus.MessageBus, memStore *memory.Store, sess *sessions.Manager, providerReg *providers.Registry) (*tools.Registry, func()) {
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

	reg.Register(tools.NewMessageTool(msgBus))
	reg.Register(tools.NewSpawnTool(msgBus))
	reg.Register(tools.NewMemoryGetTool(memStore))

	reg.Register(tools.NewSessionsListTool(sess))
	reg.Register(tools.NewSessionsHistoryTool(sess))
	reg.Register(tools.NewSessionsSendTool(sess, msgBus))
	reg.Register(tools.NewReadImageTool(guard, providerReg, cfg.Agent.Provider))

	cleanup := func() {}

	// Semantic search is optional: the agent still has memory_get when the
	// sqlite index cannot open.
	index, err := memory.OpenIndex(memStore)
	if err != nil {
		slog.Warn("memory.index_unavailable", "error", err)
	} else {
		reg.Register(tools.NewMemorySearchTool(index))
		cleanup = func() { index.Close() }
	}

	if cfg.Tools.Browser.Enabled {
		b := browser.New(filepath.Join(workspace, "media"))
		reg.Register(tools.NewBrowserTool(b))
		prev := cleanup
		cleanup = func() {
			b.Close()
			prev()
		}
	}

	return reg, cleanup
}
