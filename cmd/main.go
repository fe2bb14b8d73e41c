package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/reactagent/internal/agent"
	"github.com/MimeLyc/reactagent/internal/config"
	"github.com/MimeLyc/reactagent/internal/llm"
	"github.com/MimeLyc/reactagent/internal/memory"
	"github.com/MimeLyc/reactagent/internal/persistence"
	"github.com/MimeLyc/reactagent/internal/tools"
	"github.com/MimeLyc/reactagent/internal/tracing"
	"github.com/MimeLyc/reactagent/pkg/icron"
	"github.com/MimeLyc/reactagent/pkg/log"
)

func main() {
	query := strings.TrimSpace(strings.Join(os.Args[1:], " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: reactagent <question>")
		os.Exit(2)
	}

	// Initialize configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, cfg, query, os.Stdout)
	if err != nil {
		log.Error("%v", err)
	}
	os.Exit(code)
}

// run wires the components described by cfg, answers query and writes the
// answer to out. It returns the process exit code.
func run(ctx context.Context, cfg *config.Config, query string, out io.Writer) (int, error) {
	// without TRACE_ENABLED spans go to whatever provider is installed globally
	if cfg.System.TraceEnabled {
		shutdown := tracing.Install("reactagent", nil)
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				log.Warn("Failed to flush spans: %v", err)
			}
		}()
	}

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return 1, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if cfg.Docs.Dir != "" {
		n, err := store.IngestDir(ctx, cfg.Docs.Dir, time.Time{}, cfg.Docs.Extensions...)
		if err != nil {
			return 1, fmt.Errorf("index documents: %w", err)
		}
		log.Info("Indexed %d documents from %s", n, cfg.Docs.Dir)
	}

	sink, closeSink := buildMemory(ctx, cfg, store)
	defer closeSink()

	scheduler, err := startRetention(cfg, store)
	if err != nil {
		return 1, err
	}
	defer func() { <-scheduler.Stop().Done() }()

	registry, closeTools, err := buildRegistry(cfg, store, sink)
	if err != nil {
		return 1, err
	}
	defer closeTools()

	client, err := llm.NewClient(cfg.LLMConfig())
	if err != nil {
		return 1, fmt.Errorf("create llm client: %w", err)
	}
	log.Info("Using model %s with tools: %s", client.Model(), strings.Join(registry.List(), ", "))
	model := agent.NewLLMModel(client, registry, cfg.Agent.SystemPrompt)

	engine, err := agent.NewEngine(model, registry, cfg.AgentConfig(),
		agent.WithObserver(agent.MultiObserver(agent.LogObserver{}, tracing.NewObserver(nil))))
	if err != nil {
		return 1, err
	}

	result := engine.Execute(ctx, query, nil)
	fmt.Fprintln(out, result.FinalAnswer)

	log.Info("Run %s: %s after %d iterations, %d tool calls, %s",
		result.RunID, result.TerminationReason, result.IterationCount(), result.ToolCallCount(), result.TotalDuration)
	if !result.Success {
		return 1, nil
	}
	return 0, nil
}

// buildMemory returns the SQLite store, mirrored into Redis when configured
// and reachable.
func buildMemory(ctx context.Context, cfg *config.Config, store *persistence.SQLiteStore) (memory.Sink, func()) {
	if cfg.Redis.Addr == "" {
		return store, func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis at %s unavailable, memory stays local: %v", cfg.Redis.Addr, err)
		_ = rdb.Close()
		return store, func() {}
	}

	mirror := memory.NewRedisSink(rdb,
		memory.WithKeyPrefix(cfg.Redis.KeyPrefix),
		memory.WithMaxItems(cfg.Redis.MaxItems))
	return memory.Fanout(store, mirror), func() { _ = rdb.Close() }
}

// startRetention schedules memory pruning. With no cron expression the
// returned scheduler has no entries.
func startRetention(cfg *config.Config, store *persistence.SQLiteStore) (*cron.Cron, error) {
	c := cron.New()
	if expr := cfg.Memory.RetentionCron; expr != "" {
		if _, err := memory.ScheduleRetention(c, expr, cfg.Memory.MaxAge, store); err != nil {
			return nil, err
		}
		if info, err := icron.GetTriggerInfo(expr, time.Now()); err == nil {
			log.Info("Memory retention %q: next run in %s", expr, info.TimeUntilNext.Round(time.Second))
		}
	}
	c.Start()
	return c, nil
}

// buildRegistry registers document_search always, web_search when a search
// key is set and sql_query when a DSN is set.
func buildRegistry(cfg *config.Config, store *persistence.SQLiteStore, sink memory.Sink) (*tools.Registry, func(), error) {
	opts := []tools.Option{tools.WithMemory(sink)}
	if cfg.Agent.DispatchTimeout > 0 {
		opts = append(opts, tools.WithTimeout(cfg.Agent.DispatchTimeout))
	}
	registry := tools.NewRegistry(opts...)
	closer := func() {}

	if err := registry.Register(tools.NewDocumentSearchTool(store)); err != nil {
		return nil, closer, err
	}

	if cfg.Search.APIKey != "" {
		search := tools.NewWebSearchTool(cfg.Search.APIKey, cfg.Search.APIURL,
			tools.WithRateLimit(cfg.Search.RateLimit, 1),
			tools.WithCacheTTL(cfg.Search.CacheTTL))
		if err := registry.Register(search); err != nil {
			return nil, closer, err
		}
	}

	if cfg.SQL.DSN != "" {
		db, err := tools.OpenSQL(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, closer, err
		}
		closer = func() { _ = db.Close() }
		if err := registry.Register(tools.NewSQLQueryTool(db, cfg.SQL.SchemaHint)); err != nil {
			closer()
			return nil, func() {}, err
		}
	}

	log.Info("Registered tools: %s", strings.Join(registry.List(), ", "))
	return registry, closer, nil
}
