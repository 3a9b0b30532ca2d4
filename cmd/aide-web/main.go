// Command aide-web runs the assistant's HTTP front end: the turn API,
// memory and task listings, the WebSocket event stream, and Prometheus
// metrics, all on one port.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/scrypster/aide/internal/agent"
	"github.com/scrypster/aide/internal/assembler"
	"github.com/scrypster/aide/internal/attribution"
	"github.com/scrypster/aide/internal/backup"
	"github.com/scrypster/aide/internal/capability"
	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/internal/memory"
	"github.com/scrypster/aide/internal/notify"
	"github.com/scrypster/aide/internal/observability"
	"github.com/scrypster/aide/internal/server"
	"github.com/scrypster/aide/internal/services"
	"github.com/scrypster/aide/internal/session"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/internal/storage/postgres"
	"github.com/scrypster/aide/internal/storage/sqlite"
	"github.com/scrypster/aide/web/handlers"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openDataStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("aide")

	core, err := buildCore(cfg, store, metrics)
	if err != nil {
		log.Fatalf("Failed to build core: %v", err)
	}

	core.sessions.Start(ctx)

	addr, hub, err := server.Start(ctx, cfg, core.agent, store, core.memory, core.profiles, core.sessions)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// The hub must be wired before consolidation can finish a job, or early
	// events are lost.
	core.memory.SetEventSink(hub)
	if err := core.memory.Start(ctx); err != nil {
		log.Fatalf("Failed to start memory store: %v", err)
	}

	// Pick up consolidation events from a CLI process sharing the SQLite
	// file and replay them to WebSocket clients.
	var watcher *notify.EventWatcher
	if cfg.Storage.Engine == "sqlite" {
		watcher = notify.NewEventWatcher(cfg.Storage.DataPath, hub.ConsolidationFinished)
		if err := watcher.Start(); err != nil {
			log.Printf("WARNING: event watcher disabled: %v", err)
			watcher = nil
		}
	}

	var backupSvc *backup.Service
	if cfg.Backup.Enabled && cfg.Storage.Engine == "sqlite" {
		backupSvc, err = backup.New(backup.Config{
			DBPath:   filepath.Join(cfg.Storage.DataPath, "aide.db"),
			Dir:      cfg.Backup.Path,
			Interval: cfg.BackupInterval(),
			Retention: backup.RetentionPolicy{
				Hourly: cfg.Backup.RetentionHourly,
				Daily:  cfg.Backup.RetentionDaily,
			},
			Verify: cfg.Backup.Verify,
		})
		if err != nil {
			log.Fatalf("Failed to create backup service: %v", err)
		}
		go func() {
			if err := backupSvc.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("WARNING: backup service stopped: %v", err)
			}
		}()
	}

	log.Printf("aide running at http://%s", addr)
	log.Printf("Storage: %s, provider: %s", cfg.Storage.Engine, describeProvider(cfg))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	if watcher != nil {
		watcher.Stop()
	}
	if backupSvc != nil {
		_ = backupSvc.Stop()
	}

	// Drain consolidation before the HTTP server goes away so queued turns
	// still become memories.
	if err := core.memory.Shutdown(ctx); err != nil {
		log.Printf("WARNING: memory store shutdown: %v", err)
	}

	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// core bundles the long-lived components the server serves from.
type core struct {
	memory   *memory.Store
	sessions *session.Manager
	profiles *services.ProfileService
	agent    *agent.Controller
}

// buildCore wires providers, memory, capabilities, and the controller from
// the configuration. It starts nothing; lifecycle stays with the caller.
func buildCore(cfg *config.Config, store storage.Store, metrics *observability.Metrics) (*core, error) {
	generator, err := llm.NewGenerator(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("building provider: %w", err)
	}
	embedder := llm.NewEmbeddingGenerator(cfg)

	memStore := memory.New(store, generator, embedder, metrics, memory.Config{
		Workers:              cfg.Memory.Workers,
		QueueSize:            cfg.Memory.QueueSize,
		RetryQueueSize:       cfg.Memory.RetryQueueSize,
		ShutdownTimeout:      cfg.MemoryShutdownTimeout(),
		RetrievalK:           cfg.Memory.RetrievalK,
		ConsolidationEnabled: cfg.Memory.ConsolidationEnabled,
		DecayHalfLife:        cfg.DecayHalfLife(),
		SweepInterval:        cfg.DecayInterval(),
		ExpiryAge:            cfg.ExpiryAge(),
		ExpiryScoreFloor:     cfg.Memory.ExpiryScoreFloor,
	})

	sessions := session.NewManager(store, session.DefaultConfig())

	displayName := cfg.User.DisplayName
	if displayName == "" {
		displayName = attribution.DetectUserName()
	}
	profiles := services.NewProfileService(store, displayName)

	registry := capability.NewRegistry(cfg.Agent.ConfidenceFloor, metrics)
	for _, module := range []capability.Capability{
		capability.NewTaskManager(store),
		capability.NewCommunication(generator),
		capability.NewAnalytics(store, sessions),
		capability.NewPreferences(profiles),
	} {
		if err := registry.Register(module); err != nil {
			return nil, fmt.Errorf("registering capability: %w", err)
		}
	}

	asm := assembler.New(memStore, metrics, assembler.Config{
		TokenBudget:      cfg.Context.TokenBudget,
		RecentTurns:      cfg.Context.RecentTurns,
		EmbedRecentTurns: cfg.Context.EmbedRecentTurns,
		RetrievalK:       cfg.Memory.RetrievalK,
	})

	controller := agent.New(asm, registry, generator, memStore, sessions, profiles, metrics, agent.Config{
		TurnTimeout:       cfg.TurnTimeout(),
		RecentTurns:       cfg.Context.RecentTurns,
		DefaultUserID:     cfg.User.DefaultUserID,
		ToneNormalization: cfg.Agent.ToneNormalization,
		IntentRefinement:  cfg.Agent.IntentRefinement,
	})

	return &core{
		memory:   memStore,
		sessions: sessions,
		profiles: profiles,
		agent:    controller,
	}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfigFile(path)
	}
	return config.LoadConfig()
}

// openDataStore opens the configured storage backend.
func openDataStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Engine == "postgres" {
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	}
	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "aide.db"))
}

// describeProvider renders the provider line for the startup log with any
// API key masked.
func describeProvider(cfg *config.Config) string {
	p := cfg.Provider

	var desc string
	switch p.Primary {
	case config.BackendOpenAI:
		desc = fmt.Sprintf("%s (%s, key %s)", p.Primary, p.OpenAIModel, handlers.MaskAPIKey(p.OpenAIAPIKey))
	case config.BackendAnthropic:
		desc = fmt.Sprintf("%s (%s, key %s)", p.Primary, p.AnthropicModel, handlers.MaskAPIKey(p.AnthropicAPIKey))
	default:
		desc = fmt.Sprintf("%s (%s at %s)", p.Primary, p.OllamaModel, p.OllamaURL)
	}
	if p.Fallback != "" {
		desc += ", fallback " + p.Fallback
	}
	return desc
}
