package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/api"
	"github.com/nidhogg/launchbox/internal/command"
	"github.com/nidhogg/launchbox/internal/config"
	"github.com/nidhogg/launchbox/internal/events"
	"github.com/nidhogg/launchbox/internal/executor"
	"github.com/nidhogg/launchbox/internal/gateway"
	"github.com/nidhogg/launchbox/internal/history"
	"github.com/nidhogg/launchbox/internal/intent"
	"github.com/nidhogg/launchbox/internal/params"
	"github.com/nidhogg/launchbox/internal/plan"
	msgrouter "github.com/nidhogg/launchbox/internal/router"
	"github.com/nidhogg/launchbox/internal/session"
	"go.uber.org/zap"
)

func main() {
	config.LoadEnv()

	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting LaunchBox...", zap.String("config", cfgPath))

	ctx := context.Background()

	// Provider router
	llm := buildProviders(cfg, logger)

	// Actions
	registry, err := buildRegistry(cfg.Actions)
	if err != nil {
		logger.Fatal("failed to load action catalog", zap.Error(err))
	}
	dispatcher := buildDispatcher(cfg.Actions, registry, llm, logger)

	// Knowledge base (optional)
	kb, closeKB := buildKnowledge(ctx, cfg, logger)
	defer closeKB()
	var knowledge api.Knowledge
	if kb != nil {
		dispatcher.Register("knowledge_search", action.KnowledgeHandler(kb))
		knowledge = kb
	}

	// Persistence (optional)
	snapshots, closeStore := buildStore(ctx, cfg, logger)
	defer closeStore()

	// Events: in-process hub, plus Redis Streams when enabled
	hub := events.NewHub(256, logger)
	var publisher events.Publisher = hub
	if cfg.Database.Redis.Events && cfg.Database.Redis.URL != "" {
		bus, busErr := events.NewRedisBus(ctx, cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, events stay in-process", zap.Error(busErr))
		} else {
			defer bus.Close()
			publisher = events.Fanout{hub, bus}
			logger.Info("Publishing events to Redis Streams")
		}
	}

	// Pipeline
	classifier := intent.NewClassifier(registry, llm, logger)
	extractor := params.NewExtractor(registry, llm, logger)
	planner := plan.NewGenerator(llm, logger)
	commands := command.NewRegistry()

	sessions := session.NewManager(session.Deps{
		Registry:   registry,
		Dispatcher: dispatcher,
		Classifier: classifier,
		Extractor:  extractor,
		Planner:    planner,
		Reasoner:   executor.NewLLMReasoner(llm),
		LLM:        llm,
		History: history.New(history.Config{
			MaxTokens: cfg.Session.HistoryMaxTokens,
			MaxPerMsg: history.DefaultConfig().MaxPerMsg,
		}, llm, logger),
		Store:    snapshots,
		Events:   publisher,
		Commands: commands,
	}, session.Config{
		ImageCacheSize: cfg.Session.ImageCacheSize,
		Executor: executor.Config{
			ReasonTimeout:   cfg.Executor.ReasonTimeout(),
			ReasonRetries:   uint64(cfg.Executor.ReasonRetries),
			DispatchTimeout: cfg.Executor.DispatchTimeout(),
		},
	}, logger)
	defer sessions.Close()

	// Gateway: wire the message router BEFORE registering adapters
	// (Register captures the handler).
	gw := gateway.NewGateway(logger)
	router := msgrouter.New(sessions, gw, hub, logger)
	gw.SetHandler(router.Handle)
	registerAdapters(gw, cfg.Gateway, logger)

	command.RegisterBuiltins(commands, sessions, registry, msgrouter.CommandStatus(gw))
	command.RegisterProviderCommands(commands, llm)
	if kb != nil {
		command.RegisterSearchCommand(commands, kb)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	if len(gw.Adapters()) > 0 {
		if err := gw.ConnectAll(runCtx); err != nil {
			logger.Warn("some gateway adapters failed to connect", zap.Error(err))
		}
		go router.Run(runCtx)
	}

	handler := api.NewHandler(api.Deps{
		Sessions:   sessions,
		Registry:   registry,
		Classifier: classifier,
		Extractor:  extractor,
		Planner:    planner,
		Events:     hub,
		Knowledge:  knowledge,
		Gateway:    gw,
		Providers:  llm,
	}, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("LaunchBox listening", zap.String("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down LaunchBox...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	stop()
	router.Wait()
	gw.Close()
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "" || level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		zc := zap.NewProductionConfig()
		if lvl, perr := zap.ParseAtomicLevel(level); perr == nil {
			zc.Level = lvl
		}
		logger, err = zc.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
