package taskweave

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func awaitTaskTerminal(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not reach a terminal state in time", task.ID)
	}
}

func TestSubmitWithoutProviderFails(t *testing.T) {
	app := New()
	_, err := app.Submit("hi", "u1", "")
	if err == nil {
		t.Fatal("expected an error when no Provider is configured")
	}
}

func TestSubmitRunsAgentLoopToCompletion(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: "hello"}},
	}}
	app := New(WithProvider(stub))

	task, err := app.Submit("hi", "u1", "c1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if task.Status() != TaskRunning && task.Status() != TaskCompleted {
		t.Errorf("expected task to start running, got %v", task.Status())
	}

	awaitTaskTerminal(t, task)
	if task.Status() != TaskCompleted {
		t.Errorf("expected task to complete, got %v", task.Status())
	}
	if task.ResultText() != "hello" {
		t.Errorf("expected result text 'hello', got %q", task.ResultText())
	}
}

func TestToolsReturnsSharedTreeAcrossSubmits(t *testing.T) {
	app := New(WithProvider(&stubProvider{results: []stubResult{{resp: ChatResponse{Content: "ok"}}}}))
	app.Tools().Define("echo", echoRunnerTool(ApprovalAuto))
	if _, ok := app.Tools().Get("echo"); !ok {
		t.Error("expected the tool mounted via Tools() to persist")
	}
}

func TestSubmitResolvesGatedToolThroughApprovalEngine(t *testing.T) {
	tree := NewToolTree()
	tree.Define("danger", echoRunnerTool(ApprovalRequired))

	var round int
	var mu sync.Mutex
	stub := &fnProvider{chatWithTools: func(_ context.Context, _ ChatRequest, _ []ToolDefinition) (ChatResponse, error) {
		mu.Lock()
		round++
		r := round
		mu.Unlock()
		if r == 1 {
			args, _ := json.Marshal(map[string]string{"code": `tools.danger({message:"x"})`})
			return ChatResponse{ToolCalls: []ToolCall{{ID: "call-1", Name: "run_code", Args: args}}}, nil
		}
		return ChatResponse{Content: "done"}, nil
	}}

	app := New(WithProvider(stub), WithTools(tree))
	task, err := app.Submit("run danger", "u1", "")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(app.Approvals().ListPending(task.ID)) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("gated call never registered a pending approval")
		case <-time.After(5 * time.Millisecond):
		}
	}

	pending := app.Approvals().ListPending(task.ID)
	if err := app.Approvals().Resolve(pending[0].CallID, DecisionApproved); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	awaitTaskTerminal(t, task)
	if task.Status() != TaskCompleted {
		t.Errorf("expected task to complete once approved, got %v", task.Status())
	}
}

func TestWithTaskStoreBackendMirrorsTaskAndEvents(t *testing.T) {
	store := &fakeStore{}
	app := New(WithProvider(&stubProvider{results: []stubResult{{resp: ChatResponse{Content: "ok"}}}}), WithTaskStoreBackend(store))

	task, err := app.Submit("p", "u1", "")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	awaitTaskTerminal(t, task)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.savedTasks) != 1 || store.savedTasks[0] != task.ID {
		t.Errorf("expected WithTaskStoreBackend's orchestrator to mirror the new task, got %v", store.savedTasks)
	}
	if len(store.appendedIDs) == 0 {
		t.Error("expected at least one event to be mirrored to the store")
	}
}

// fakeTracer/fakeSpan are hand-rolled Tracer/Span fakes recording calls,
// matching the teacher's no-mocking-library test idiom.
type fakeSpan struct {
	mu     sync.Mutex
	ended  bool
	errors []error
}

func (s *fakeSpan) SetAttr(...SpanAttr)       {}
func (s *fakeSpan) Event(string, ...SpanAttr) {}
func (s *fakeSpan) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}
func (s *fakeSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

type fakeTracer struct {
	mu    sync.Mutex
	spans []*fakeSpan
}

func (tr *fakeTracer) Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	s := &fakeSpan{}
	tr.mu.Lock()
	tr.spans = append(tr.spans, s)
	tr.mu.Unlock()
	return ctx, s
}

func TestSubmitStartsAndEndsSpanOnSuccess(t *testing.T) {
	tracer := &fakeTracer{}
	stub := &stubProvider{results: []stubResult{{resp: ChatResponse{Content: "ok"}}}}
	app := New(WithProvider(stub), WithTracer(tracer))

	task, err := app.Submit("p", "u1", "")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	awaitTaskTerminal(t, task)

	deadline := time.After(time.Second)
	for {
		tracer.mu.Lock()
		n := len(tracer.spans)
		tracer.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected exactly one span to be started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	span := tracer.spans[0]
	deadline = time.After(time.Second)
	for {
		span.mu.Lock()
		ended := span.ended
		span.mu.Unlock()
		if ended {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the span to be ended after the task finishes")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if len(span.errors) != 0 {
		t.Errorf("expected no span error on a successful task, got %v", span.errors)
	}
}

// fnProvider is a Provider whose ChatWithTools is supplied inline, for tests
// that need per-round branching logic ratelimit_test.go/retry_test.go's
// stubProvider can't express.
type fnProvider struct {
	chatWithTools func(context.Context, ChatRequest, []ToolDefinition) (ChatResponse, error)
}

func (p *fnProvider) Name() string { return "fn" }
func (p *fnProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return p.chatWithTools(ctx, req, nil)
}
func (p *fnProvider) ChatWithTools(ctx context.Context, req ChatRequest, defs []ToolDefinition) (ChatResponse, error) {
	return p.chatWithTools(ctx, req, defs)
}
func (p *fnProvider) ChatStream(ctx context.Context, req ChatRequest, _ chan<- StreamEvent) (ChatResponse, error) {
	return p.chatWithTools(ctx, req, nil)
}

var _ Provider = (*fnProvider)(nil)
