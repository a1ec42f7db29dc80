package cmd

import (
	"log/slog"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels/camera"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels/dingtalk"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels/discord"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels/feishu"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels/qq"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels/telegram"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels/whatsapp"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
)

// buildChannelManager registers every channel enabled in config. A channel
// that fails to construct (bad token, missing credential) is logged and
// skipped: one broken adapter must not keep the gateway from serving the
// rest.
func buildChannelManager(cfg *config.Config, msgBus *bus.MessageBus, mediaDir string) *channels.Manager {
	manager := channels.NewManager(msgBus)

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus, mediaDir)
		if err != nil {
			slog.Error("channels.construct_failed", "channel", "telegram", "error", err)
		} else {
			manager.Register(tg)
			slog.Info("channels.enabled", "channel", "telegram")
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("channels.construct_failed", "channel", "discord", "error", err)
		} else {
			manager.Register(dc)
			slog.Info("channels.enabled", "channel", "discord")
		}
	}

	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.BridgeURL != "" {
		wa, err := whatsapp.New(cfg.Channels.WhatsApp, msgBus)
		if err != nil {
			slog.Error("channels.construct_failed", "channel", "whatsapp", "error", err)
		} else {
			manager.Register(wa)
			slog.Info("channels.enabled", "channel", "whatsapp")
		}
	}

	if cfg.Channels.Feishu.Enabled {
		f, err := feishu.New(cfg.Channels.Feishu, msgBus, mediaDir)
		if err != nil {
			slog.Error("channels.construct_failed", "channel", "feishu", "error", err)
		} else {
			manager.Register(f)
			slog.Info("channels.enabled", "channel", "feishu")
		}
	}

	if cfg.Channels.DingTalk.Enabled {
		dt, err := dingtalk.New(cfg.Channels.DingTalk, msgBus)
		if err != nil {
			slog.Error("channels.construct_failed", "channel", "dingtalk", "error", err)
		} else {
			manager.Register(dt)
			slog.Info("channels.enabled", "channel", "dingtalk")
		}
	}

	if cfg.Channels.QQ.Enabled {
		q, err := qq.New(cfg.Channels.QQ, msgBus)
		if err != nil {
			slog.Error("channels.construct_failed", "channel", "qq", "error", err)
		} else {
			manager.Register(q)
			slog.Info("channels.enabled", "channel", "qq")
		}
	}

	if cfg.Channels.Camera.Enabled {
		cam, err := camera.New(cfg.Channels.Camera, msgBus, mediaDir)
		if err != nil {
			slog.Error("channels.construct_failed", "channel", "camera", "error", err)
		} else {
			manager.Register(cam)
			slog.Info("channels.enabled", "channel", "camera")
		}
	}

	return manager
}
