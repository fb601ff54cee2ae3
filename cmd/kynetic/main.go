// Package main is the entry point for the kynetic-bot process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kynetic-ai/kynetic-bot/internal/agent/lifecycle"
	"github.com/kynetic-ai/kynetic-bot/internal/channel/discord"
	"github.com/kynetic-ai/kynetic-bot/internal/channel/telegram"
	"github.com/kynetic-ai/kynetic-bot/internal/common/config"
	"github.com/kynetic-ai/kynetic-bot/internal/common/healthz"
	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
	"github.com/kynetic-ai/kynetic-bot/internal/events/bus"
	"github.com/kynetic-ai/kynetic-bot/internal/identity"
	"github.com/kynetic-ai/kynetic-bot/internal/orchestrator"
	"github.com/kynetic-ai/kynetic-bot/internal/persistence"
	"github.com/kynetic-ai/kynetic-bot/internal/persistence/memory"
	"github.com/kynetic-ai/kynetic-bot/internal/persistence/sqlite"
	sessionmanager "github.com/kynetic-ai/kynetic-bot/internal/session/manager"
	"github.com/kynetic-ai/kynetic-bot/internal/session/router"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting kynetic-bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus.
	eventBus, err := bus.New(cfg.Events, log)
	if err != nil {
		log.Fatal("failed to build event bus", zap.Error(err))
	}
	defer eventBus.Close()

	// 4. Persistence.
	events, convos, closeStore, err := buildStores(cfg.Persistence, log)
	if err != nil {
		log.Fatal("failed to build persistence stores", zap.Error(err))
	}
	defer closeStore()

	recon := persistence.NewConversationReconstructor(convos, 0, cfg.Agent.RecentConversationMaxAge())

	// 5. Agent lifecycle + session routing.
	lifecycleMgr := lifecycle.NewManager(cfg.Agent, eventBus, log)
	table := router.NewTable()
	sessions := sessionmanager.New(table, lifecycleMgr, events, recon, eventBus, log)

	// 6. Channels.
	channels := orchestrator.Channels{}
	if cfg.Discord.Enabled {
		ch, err := discord.New(cfg.Discord.Token, log)
		if err != nil {
			log.Fatal("failed to build discord channel", zap.Error(err))
		}
		channels["discord"] = ch
	}
	if cfg.Telegram.Enabled {
		ch, err := telegram.New(cfg.Telegram.Token, log)
		if err != nil {
			log.Fatal("failed to build telegram channel", zap.Error(err))
		}
		channels["telegram"] = ch
	}
	if len(channels) == 0 {
		log.Fatal("no channel enabled; set discord.enabled or telegram.enabled")
	}

	// 7. Identity + checkpoint-aware orchestrator.
	identityPrompt := identity.Load(cfg.Agent.IdentityBaseDir, log)
	defaultAgent := firstConfiguredAgent(cfg.Agent)

	orch := orchestrator.New(channels, lifecycleMgr, sessions, table, events, convos, eventBus, log, orchestrator.Config{
		IdentityPrompt:           identityPrompt,
		CheckpointPath:           checkpointPath(cfg.Agent.CheckpointDir, defaultAgent),
		AgentWorkDir:             cfg.Agent.WorkDir,
		DefaultAgent:             defaultAgent,
		ContextRotationThreshold: cfg.Agent.ContextRotationThreshold,
	})

	if err := orch.Start(ctx); err != nil {
		log.Fatal("failed to start orchestrator", zap.Error(err))
	}

	// 8. Health/readiness HTTP surface.
	healthAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	healthSrv := healthz.New(healthAddr, func() []healthz.AgentStatus {
		return agentStatuses(lifecycleMgr, defaultAgent)
	})
	healthSrv.Start()
	log.Info("health server listening", zap.String("addr", healthAddr))

	// 9. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down kynetic-bot")
	cancel()

	if err := healthSrv.Stop(); err != nil {
		log.Error("health server shutdown error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := orch.Stop(shutdownCtx, shutdownTimeout); err != nil {
		log.Error("orchestrator shutdown error", zap.Error(err))
	}

	log.Info("kynetic-bot stopped")
}

// buildStores selects the sqlite or in-memory persistence backend per
// cfg.Driver, returning a cleanup func the caller must defer.
func buildStores(cfg config.PersistenceConfig, log *logger.Logger) (persistence.SessionEventStore, persistence.ConversationStore, func(), error) {
	switch cfg.Driver {
	case "", "sqlite":
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return sqlite.NewEventStore(db), sqlite.NewConversationStore(db), func() { _ = db.Close() }, nil
	case "memory":
		return memory.NewEventStore(0), memory.NewConversationStore(0), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}

// firstConfiguredAgent picks the default agent name: a key of AgentCommands
// if any is configured (whichever map iteration yields first, so not fixed
// when several are configured), otherwise "default" to fall back on the
// single global Agent.Command.
func firstConfiguredAgent(cfg config.AgentConfig) string {
	for name := range cfg.AgentCommands {
		return name
	}
	return "default"
}

func checkpointPath(dir, agentName string) string {
	if dir == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s.checkpoint.yaml", dir, agentName)
}

func agentStatuses(mgr *lifecycle.Manager, agentName string) []healthz.AgentStatus {
	inst, ok := mgr.GetInstance(agentName)
	if !ok {
		return []healthz.AgentStatus{{Name: agentName, Status: "unknown"}}
	}
	return []healthz.AgentStatus{{Name: agentName, Status: string(inst.Status())}}
}
