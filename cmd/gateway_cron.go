package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/agent"
	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/heartbeat"
	"github.com/Leavesfly/TinyClaw-sub001/internal/memory"
	"github.com/Leavesfly/TinyClaw-sub001/internal/scheduler"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
)

// buildScheduler wires the cron service to the agent loop. Every job runs
// on its own cron session so runs of the same job share history; when the
// payload asks for delivery the reply is published outbound like any chat
// answer.
func buildScheduler(store scheduler.Store, loop *agent.Loop, msgBus *bus.MessageBus) *scheduler.Service {
	handler := func(ctx context.Context, job scheduler.CronJob) error {
		sessionKey := sessions.CronKey(job.ID)

		var reply string
		var err error
		if job.Payload.Channel != "" && job.Payload.ChatID != "" {
			reply, err = loop.ProcessDirectWithChannel(ctx, job.Payload.Message, sessionKey,
				job.Payload.Channel, job.Payload.ChatID)
		} else {
			reply, err = loop.ProcessDirect(ctx, job.Payload.Message, sessionKey)
		}
		if err != nil {
			return err
		}

		if job.Payload.Deliver && job.Payload.Channel != "" && job.Payload.ChatID != "" &&
			reply != "" && !agent.IsSilentReply(reply) {
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: job.Payload.Channel,
				ChatID:  job.Payload.ChatID,
				Content: reply,
			})
		}
		return nil
	}

	return scheduler.New(store, handler)
}

// buildHeartbeat assembles the heartbeat service, or nil when disabled. The
// callback routes the synthetic prompt through the shared heartbeat session;
// a reply is delivered only when config names a channel and the agent said
// something worth sending.
func buildHeartbeat(cfg *config.Config, loop *agent.Loop, msgBus *bus.MessageBus, memStore *memory.Store, workspace string) *heartbeat.Service {
	if !cfg.Heartbeat.Enabled {
		return nil
	}

	interval, err := time.ParseDuration(cfg.Heartbeat.Every)
	if err != nil || interval <= 0 {
		slog.Warn("heartbeat.invalid_interval", "every", cfg.Heartbeat.Every, "error", err)
		interval = 30 * time.Minute
	}

	deliverChannel := cfg.Heartbeat.Channel
	deliverChat := cfg.Heartbeat.ChatID

	cb := func(ctx context.Context, prompt string) error {
		reply, err := loop.ProcessDirectWithChannel(ctx, prompt, sessions.HeartbeatKey,
			deliverChannel, deliverChat)
		if err != nil {
			return err
		}
		if deliverChannel != "" && deliverChat != "" &&
			reply != "" && !agent.IsSilentReply(reply) {
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: deliverChannel,
				ChatID:  deliverChat,
				Content: reply,
			})
		}
		return nil
	}

	logPath := filepath.Join(workspace, "memory", "heartbeat.log")
	return heartbeat.New(interval, memStore.HeartbeatFile(), logPath, cb)
}
