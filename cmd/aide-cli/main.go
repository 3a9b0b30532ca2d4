// Command aide-cli is the terminal front end: it embeds the orchestration
// core directly over the configured storage, so the assistant works without
// the HTTP server running.
//
// With -input it runs a single turn and exits; otherwise it opens an
// interactive session reading turns from stdin. Every turn still flows
// through context assembly, capability dispatch, and consolidation, and the
// process drains the consolidation queue before exiting so one-shot turns
// become memories too. When an aide-web process shares the SQLite data
// directory, consolidation events are handed over through the events
// directory and reach its WebSocket clients.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/scrypster/aide/internal/agent"
	"github.com/scrypster/aide/internal/assembler"
	"github.com/scrypster/aide/internal/attribution"
	"github.com/scrypster/aide/internal/capability"
	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/internal/memory"
	"github.com/scrypster/aide/internal/notify"
	"github.com/scrypster/aide/internal/services"
	"github.com/scrypster/aide/internal/session"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/internal/storage/postgres"
	"github.com/scrypster/aide/internal/storage/sqlite"
	"github.com/scrypster/aide/web/handlers"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	input := flag.String("input", "", "Run a single turn with this input and exit")
	conversation := flag.String("conversation", "", "Conversation ID to continue (default starts a new one)")
	verbose := flag.Bool("verbose", false, "Log turn lifecycle and provider activity to stderr")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openDataStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	core, err := buildCore(cfg, store)
	if err != nil {
		log.Fatalf("Failed to build core: %v", err)
	}

	// Leave consolidation events behind for a web process sharing the
	// SQLite file.
	if cfg.Storage.Engine == "sqlite" {
		core.memory.SetEventSink(notify.NewEventWriter(cfg.Storage.DataPath))
	}

	core.sessions.Start(ctx)
	if err := core.memory.Start(ctx); err != nil {
		log.Fatalf("Failed to start memory store: %v", err)
	}

	// Past this point the log package only carries background noise from
	// the core; keep the terminal clean unless asked otherwise.
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if *input != "" {
			runErr = runOneShot(ctx, core.agent, *conversation, *input)
			return
		}
		printBanner(cfg)
		last := runInteractive(ctx, core.agent, *conversation)
		if last != "" && last != *conversation {
			fmt.Fprintf(os.Stderr, "resume this conversation with -conversation %s\n", last)
		}
	}()

	interrupted := false
	select {
	case <-done:
	case <-sigChan:
		interrupted = true
		fmt.Fprintln(os.Stderr)
	}

	if core.memory.QueueDepth() > 0 {
		fmt.Fprintln(os.Stderr, "consolidating pending memories...")
	}
	if err := core.memory.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: memory store shutdown: %v\n", err)
	}
	cancel()
	_ = store.Close()

	if !interrupted && runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}

// runOneShot submits a single turn and prints the response on stdout. The
// conversation ID goes to stderr so scripts can pick it up without parsing
// the response.
func runOneShot(ctx context.Context, controller *agent.Controller, conversationID, input string) error {
	result, err := controller.SubmitTurn(ctx, conversationID, input)
	if err != nil {
		return err
	}
	fmt.Println(result.Response)
	if result.Degraded {
		fmt.Fprintln(os.Stderr, "note: degraded response")
	}
	if conversationID == "" {
		fmt.Fprintf(os.Stderr, "conversation: %s\n", result.ConversationID)
	}
	return nil
}

// runInteractive reads turns from stdin until exit, quit, or EOF. It returns
// the conversation ID in play so the caller can print a resume hint.
func runInteractive(ctx context.Context, controller *agent.Controller, conversationID string) string {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print("aide> ")
		if !scanner.Scan() {
			fmt.Println()
			return conversationID
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return conversationID
		}

		result, err := controller.SubmitTurn(ctx, conversationID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		conversationID = result.ConversationID

		fmt.Println(result.Response)
		if result.Degraded {
			fmt.Fprintln(os.Stderr, "note: degraded response")
		}
		fmt.Println()
	}
}

func printBanner(cfg *config.Config) {
	fmt.Println("aide interactive session")
	fmt.Printf("Provider: %s\n", describeProvider(cfg))
	fmt.Println("Type 'exit' or press Ctrl-D to quit.")
	fmt.Println()
}

// core bundles the long-lived components a session runs on.
type core struct {
	memory   *memory.Store
	sessions *session.Manager
	agent    *agent.Controller
}

// buildCore wires providers, memory, capabilities, and the controller the
// same way aide-web does, minus metrics: a terminal session has nowhere to
// scrape them from.
func buildCore(cfg *config.Config, store storage.Store) (*core, error) {
	generator, err := llm.NewGenerator(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("building provider: %w", err)
	}
	embedder := llm.NewEmbeddingGenerator(cfg)

	memStore := memory.New(store, generator, embedder, nil, memory.Config{
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

	registry := capability.NewRegistry(cfg.Agent.ConfidenceFloor, nil)
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

	asm := assembler.New(memStore, nil, assembler.Config{
		TokenBudget:      cfg.Context.TokenBudget,
		RecentTurns:      cfg.Context.RecentTurns,
		EmbedRecentTurns: cfg.Context.EmbedRecentTurns,
		RetrievalK:       cfg.Memory.RetrievalK,
	})

	controller := agent.New(asm, registry, generator, memStore, sessions, profiles, nil, agent.Config{
		TurnTimeout:       cfg.TurnTimeout(),
		RecentTurns:       cfg.Context.RecentTurns,
		DefaultUserID:     cfg.User.DefaultUserID,
		ToneNormalization: cfg.Agent.ToneNormalization,
		IntentRefinement:  cfg.Agent.IntentRefinement,
	})

	return &core{
		memory:   memStore,
		sessions: sessions,
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

// describeProvider renders the provider line for the banner with any API
// key masked.
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
