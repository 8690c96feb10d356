package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"browsir/internal/adapter/gateway"
	"browsir/internal/adapter/llm"
	"browsir/internal/domain"
	"browsir/internal/infra/bridge"
	"browsir/internal/infra/config"
	"browsir/internal/infra/logger"
	"browsir/internal/infra/tracer"
	"browsir/internal/usecase/cdp"
	"browsir/internal/usecase/eventbus"
	"browsir/internal/usecase/infrahandler"
	"browsir/internal/usecase"
	"browsir/internal/usecase/lease"
	"browsir/internal/usecase/loop"
	"browsir/internal/usecase/runtimerouter"
	"browsir/internal/usecase/sessionstore"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`browsir - browser automation agent runtime

USAGE:
    browsir [FLAGS]

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)
    --provider NAME    LLM provider (openai, anthropic, gemini, openrouter, ollama, bedrock)
    --model NAME       Model name
    --key KEY          API key for the provider

CONFIGURATION:
    Config file: ./config.yaml
    Environment: ALFREDAI_* variables override config

The runtime connects out to a host bridge daemon (runtime.bridge_url) for
CDP-backed browser control, and listens on gateway.addr for brain.*/config.*
requests from the controlling UI.`)
}

// cliFlags holds optional CLI flags that can bypass the config file.
type cliFlags struct {
	Provider string
	Model    string
	APIKey   string
}

func parseFlags() cliFlags {
	var flags cliFlags
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--provider" && i+1 < len(os.Args):
			flags.Provider = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--provider="):
			flags.Provider = strings.TrimPrefix(os.Args[i], "--provider=")
		case os.Args[i] == "--model" && i+1 < len(os.Args):
			flags.Model = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--model="):
			flags.Model = strings.TrimPrefix(os.Args[i], "--model=")
		case os.Args[i] == "--key" && i+1 < len(os.Args):
			flags.APIKey = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--key="):
			flags.APIKey = strings.TrimPrefix(os.Args[i], "--key=")
		}
	}
	return flags
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("ALFREDAI_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// buildQuickConfig creates a minimal config from CLI flags, bypassing
// config file loading entirely.
func buildQuickConfig(flags cliFlags) (*config.Config, error) {
	if flags.Provider == "" || flags.Model == "" || flags.APIKey == "" {
		return nil, fmt.Errorf("--provider, --model, and --key must all be specified")
	}

	cfg := config.Defaults()
	cfg.LLM.DefaultProvider = flags.Provider
	cfg.LLM.Providers = []config.ProviderConfig{
		{
			Name:   flags.Provider,
			Type:   flags.Provider,
			Model:  flags.Model,
			APIKey: flags.APIKey,
		},
	}

	config.ApplyEnvOverrides(cfg)
	return cfg, nil
}

func run() error {
	flags := parseFlags()

	var cfg *config.Config
	var err error
	var cfgPath string

	if flags.Provider != "" {
		cfg, err = buildQuickConfig(flags)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfgPath = configPath()
	} else {
		cfgPath = configPath()
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			fmt.Println("No config file found at", cfgPath, "- run with --provider/--model/--key, or create one.")
			return nil
		}
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	config.ClampRuntime(cfg)

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	bus := eventbus.New(log)
	defer bus.Close()

	bridgeClient := bridge.NewClient(cfg.Runtime.BridgeURL, cfg.Runtime.BridgeToken, func(name string, payload json.RawMessage) {
		wrapped, _ := json.Marshal(struct {
			Name    string          `json:"name"`
			Payload json.RawMessage `json:"payload"`
		}{Name: name, Payload: payload})
		bus.Publish(ctx, domain.Event{Type: domain.EventBridgeEvent, Timestamp: time.Now(), Payload: wrapped})
	}, log)

	leases := lease.NewTable()

	cdpMgr, err := cdp.NewManager(cdp.Config{
		Headless:        true,
		Timeout:         30 * time.Second,
		IdleDetachAfter: 2 * time.Minute,
	}, log)
	if err != nil {
		return fmt.Errorf("cdp: %w", err)
	}

	infra := infrahandler.New(bridgeClient, leases, cdpMgr, infrahandler.NewFileConfigStore(cfgPath), log)

	registry := llm.NewRegistry()
	var fallback domain.LLMProvider
	for _, pc := range cfg.LLM.Providers {
		provider, perr := buildLLMProvider(pc, cfg.LLM.CircuitBreaker, log)
		if perr != nil {
			return fmt.Errorf("llm provider %q: %w", pc.Name, perr)
		}
		if err := registry.Register(provider); err != nil {
			return fmt.Errorf("llm provider %q: %w", pc.Name, err)
		}
		if pc.Name == cfg.LLM.DefaultProvider {
			fallback = provider
		}
	}
	if cfg.LLM.Failover.Enabled && fallback != nil {
		var fallbacks []domain.LLMProvider
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if p, ferr := registry.Get(name); ferr == nil {
				fallbacks = append(fallbacks, p)
			}
		}
		if len(fallbacks) > 0 {
			fallback = llm.NewFailoverProvider(fallback, fallbacks, log)
		}
	}

	router := llm.NewPreferenceRouter(cfg.LLM.ModelRouting, registry, fallback)
	pipeline := llm.NewPipeline(router, bus, log)

	// No platform-tabs backend is wired yet: list_tabs/open_tab fail with
	// ErrInfraUnsupported until the browser extension side of the bridge
	// exposes tab enumeration.
	dispatcher := loop.NewDispatcher(infra, time.Duration(cfg.Runtime.BridgeInvokeTimeoutMs)*time.Millisecond, nil)

	toolSchemas := loop.ToolSchemas()
	approvedTools := make([]string, len(toolSchemas))
	for i, s := range toolSchemas {
		approvedTools[i] = s.Name
	}

	loopCtrl := loop.New(loop.Deps{
		Pipeline:     pipeline,
		Dispatcher:   dispatcher,
		Bus:          bus,
		Logger:       log,
		Tools:        toolSchemas,
		SystemPrompt: cfg.Runtime.LLMSystemPromptCustom,
		MaxSteps:     cfg.Runtime.MaxSteps,
		RequireProof: true,
		Approver:     usecase.NewConfigApprover(approvedTools, nil),
	})

	sessions := sessionstore.NewMemory()

	idGen := func() string { return uuid.NewString() }

	rtRouter := runtimerouter.NewDefault(infra, loopCtrl, dispatcher, sessions, bus, cfg, idGen, log)

	var auth gateway.Authenticator
	if cfg.Gateway.Auth.Type == "static" {
		entries := make([]struct {
			Token string
			Name  string
			Roles []string
		}, len(cfg.Gateway.Auth.Tokens))
		for i, t := range cfg.Gateway.Auth.Tokens {
			entries[i] = struct {
				Token string
				Name  string
				Roles []string
			}{Token: t.Token, Name: t.Name, Roles: t.Roles}
		}
		auth = gateway.NewStaticTokenAuth(entries)
	} else {
		auth = gateway.NewStaticTokenAuth(nil)
	}

	srv := gateway.NewServer(bus, auth, cfg.Gateway.Addr, log)
	gateway.RegisterRESTHandlers(srv, gateway.HandlerDeps{Sessions: sessions, Bus: bus})
	srv.SetDispatch(func(ctx context.Context, payload json.RawMessage) json.RawMessage {
		result := rtRouter.Handle(ctx, payload)
		data, _ := json.Marshal(result)
		return data
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("browsir starting",
		"bridge_url", cfg.Runtime.BridgeURL,
		"gateway_addr", cfg.Gateway.Addr,
		"default_provider", cfg.LLM.DefaultProvider,
		"tools", len(loop.ToolSchemas()),
	)

	return srv.Start(ctx)
}

// buildLLMProvider constructs a provider from config, wrapping it with a
// circuit breaker when the account-wide setting is enabled.
func buildLLMProvider(pc config.ProviderConfig, cbCfg config.CircuitBreakerConfig, log *slog.Logger) (domain.LLMProvider, error) {
	var provider domain.LLMProvider
	switch pc.Type {
	case "anthropic":
		provider = llm.NewAnthropicProvider(pc, log)
	case "openai":
		provider = llm.NewOpenAIProvider(pc, log)
	case "gemini":
		provider = llm.NewGeminiProvider(pc, log)
	case "openrouter":
		provider = llm.NewOpenRouterProvider(pc, log)
	case "ollama":
		provider = llm.NewOllamaProvider(pc, log)
	case "bedrock":
		bp, err := llm.NewBedrockProvider(pc, log)
		if err != nil {
			return nil, err
		}
		provider = bp
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}

	if cbCfg.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, llm.CircuitBreakerConfig{
			MaxFailures: cbCfg.MaxFailures,
			Timeout:     cbCfg.Timeout,
			Interval:    cbCfg.Interval,
		}, log)
	}
	return provider, nil
}
