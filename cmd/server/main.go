// Command server is the reference External Interface: it wires a Provider,
// a ToolTree built from the built-in tools/file and tools/http trees, and
// an *taskweave.App behind the httpapi HTTP surface, in the shape of
// cmd/sandbox/main.go's config-driven http.Server with
// signal.NotifyContext-based graceful shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	taskweave "github.com/taskweave/taskweave"
	"github.com/taskweave/taskweave/code"
	"github.com/taskweave/taskweave/httpapi"
	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/observer"
	"github.com/taskweave/taskweave/provider/resolve"
	"github.com/taskweave/taskweave/store/postgres"
	"github.com/taskweave/taskweave/store/sqlite"
	"github.com/taskweave/taskweave/tools/docs"
	"github.com/taskweave/taskweave/tools/file"
	webtool "github.com/taskweave/taskweave/tools/http"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[taskweave] ")

	cfgPath := os.Getenv("TASKWEAVE_CONFIG")
	cfg := config.Load(cfgPath)

	provider, err := resolve.Provider(resolve.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		log.Fatalf("resolve provider: %v", err)
	}
	if cfg.Loop.RetryAttempts > 0 {
		provider = taskweave.WithRetry(provider, taskweave.RetryMaxAttempts(cfg.Loop.RetryAttempts))
	}
	if cfg.Loop.RPM > 0 {
		provider = taskweave.WithRateLimit(provider, taskweave.RPM(cfg.Loop.RPM))
	}

	tools := taskweave.NewToolTree()
	if cfg.Tools.EnableFile {
		if err := os.MkdirAll(cfg.Tools.Workspace, 0o755); err != nil {
			log.Fatalf("create workspace %s: %v", cfg.Tools.Workspace, err)
		}
		tools.Mount("file", file.Tree(cfg.Tools.Workspace))
	}
	if cfg.Tools.EnableWeb {
		tools.Mount("web", webtool.Tree())
	}
	if cfg.Tools.EnableDocs {
		tools.Mount("docs", docs.Tree(cfg.Tools.Workspace))
	}

	guardrails := taskweave.NewProcessorChain()
	guardrails.Add(taskweave.NewInjectionGuard())
	guardrails.Add(taskweave.NewMaxToolCallsGuard(cfg.Loop.MaxRounds))
	guardrails.Add(taskweave.NewCodeGuard())

	appOpts := []taskweave.Option{
		taskweave.WithProvider(provider),
		taskweave.WithTools(tools),
		taskweave.WithGuardrailChain(guardrails),
		taskweave.WithMaxRounds(cfg.Loop.MaxRounds),
	}

	switch cfg.Sandbox.Driver {
	case "http":
		appOpts = append(appOpts, taskweave.WithCodeRunnerBackend(code.NewHTTPRunner(cfg.Sandbox.URL)))
	case "subprocess":
		appOpts = append(appOpts, taskweave.WithCodeRunnerBackend(code.NewSubprocessRunner(cfg.Sandbox.PythonBin)))
	}

	switch cfg.Store.Driver {
	case "sqlite":
		taskStore := sqlite.New(cfg.Store.Path)
		if err := taskStore.Init(context.Background()); err != nil {
			log.Fatalf("init task store: %v", err)
		}
		defer taskStore.Close()
		appOpts = append(appOpts, taskweave.WithTaskStoreBackend(taskStore))
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.Store.DSN)
		if err != nil {
			log.Fatalf("connect postgres task store: %v", err)
		}
		defer pool.Close()
		taskStore := postgres.New(pool)
		if err := taskStore.Init(context.Background()); err != nil {
			log.Fatalf("init task store: %v", err)
		}
		appOpts = append(appOpts, taskweave.WithTaskStoreBackend(taskStore))
	}

	if cfg.Tracing.Enabled && cfg.Tracing.OTLPEndpoint != "" {
		shutdownTracing, err := observer.Init(context.Background(), cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName)
		if err != nil {
			log.Fatalf("init tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
		appOpts = append(appOpts, taskweave.WithTracer(observer.NewTracer()))
	}

	app := taskweave.New(appOpts...)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpapi.NewServer(app).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams can run indefinitely
		IdleTimeout:  2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("stopped")
}
