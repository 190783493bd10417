package taskweave

import (
	"context"
	"fmt"
)

// App wires together the pieces a running agent needs: a model Provider,
// the ToolTree it may call, the sandboxed Runner that executes its code,
// the ApprovalEngine that gates sensitive calls, and the Orchestrator that
// tracks every in-flight Task. External Interfaces (httpapi, cmd/server)
// hold an *App and drive it; App itself has no transport dependency.
type App struct {
	provider   Provider
	tools      *ToolTree
	runner     *Runner
	codeRunner CodeRunner
	approvals  *ApprovalEngine
	orch       *Orchestrator
	guardrails *ProcessorChain
	tracer     Tracer
	maxRounds  int
}

// Option configures an App.
type Option func(*App)

func WithProvider(p Provider) Option { return func(a *App) { a.provider = p } }
func WithTools(t *ToolTree) Option   { return func(a *App) { a.tools = t } }

// WithTaskStoreBackend attaches a persistence backend to the App's
// Orchestrator. Named distinctly from orchestrator.WithTaskStore since both
// live in package taskweave.
func WithTaskStoreBackend(s TaskStore) Option {
	return func(a *App) { a.orch = NewOrchestrator(a.approvals, WithTaskStore(s)) }
}
func WithGuardrailChain(c *ProcessorChain) Option { return func(a *App) { a.guardrails = c } }

// WithCodeRunnerBackend replaces the App's default in-process goja Runner
// with an out-of-process CodeRunner (e.g. code.NewHTTPRunner, for a
// containerized Python/Node sandbox) for every run_code call. Named
// distinctly from agentloop's WithCodeRunner since both live in this
// package as different Option types.
func WithCodeRunnerBackend(cr CodeRunner) Option { return func(a *App) { a.codeRunner = cr } }
func WithMaxRounds(n int) Option                 { return func(a *App) { a.maxRounds = n } }
func WithTracer(t Tracer) Option                 { return func(a *App) { a.tracer = t } }

// New creates an App with the given options. A fresh ApprovalEngine,
// ToolTree, Runner and Orchestrator are created unless overridden.
func New(opts ...Option) *App {
	a := &App{
		tools:     NewToolTree(),
		runner:    NewRunner(),
		approvals: NewApprovalEngine(),
		maxRounds: defaultMaxRounds,
	}
	a.orch = NewOrchestrator(a.approvals)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tools returns the App's ToolTree so callers can Mount additional trees
// before the first task starts.
func (a *App) Tools() *ToolTree { return a.tools }

// Orchestrator returns the App's task registry.
func (a *App) Orchestrator() *Orchestrator { return a.orch }

// Approvals returns the App's approval engine.
func (a *App) Approvals() *ApprovalEngine { return a.approvals }

// Submit creates a Task for prompt and starts RunAgentLoop against it in a
// new goroutine. It returns immediately with the created Task; callers
// observe progress via Orchestrator.Subscribe.
func (a *App) Submit(prompt, requesterID, channelID string) (*Task, error) {
	if a.provider == nil {
		return nil, fmt.Errorf("app: no Provider configured")
	}

	task := a.orch.Create(prompt, requesterID, channelID)

	if a.tracer != nil {
		_, span := a.tracer.Start(task.Context(), "task",
			StringAttr("task.id", task.ID), StringAttr("task.requester", requesterID))
		go func() {
			<-task.Done()
			if task.Status() == TaskFailed {
				span.Error(fmt.Errorf("%s", task.ErrorMessage()))
			}
			span.End()
		}()
	}

	approve := func(ctx context.Context, req ApprovalRequest) (Decision, error) {
		ch, _ := a.approvals.Register(task.ID, req)
		select {
		case d := <-ch:
			return d, nil
		case <-ctx.Done():
			return DecisionDenied, ctx.Err()
		}
	}

	generate := func(ctx context.Context, req ChatRequest, defs []ToolDefinition) (ChatResponse, error) {
		return a.provider.ChatWithTools(ctx, req, defs)
	}

	go func() {
		var loopOpts []LoopOption
		if a.maxRounds > 0 {
			loopOpts = append(loopOpts, WithMaxRounds(a.maxRounds))
		}
		if a.guardrails != nil {
			loopOpts = append(loopOpts, WithGuardrails(a.guardrails))
		}
		if a.codeRunner != nil {
			loopOpts = append(loopOpts, WithCodeRunner(a.codeRunner))
		}
		RunAgentLoop(task.Context(), prompt, generate, a.tools, a.runner, approve,
			func(ev TaskEvent) { a.orch.Emit(task.ID, ev) }, loopOpts...)
	}()

	return task, nil
}
