package taskweave

import (
	"context"
	"encoding/json"
	"errors"
	"log"
)

// Agent is a unit of work that takes a task and returns a result. LLMAgent is
// the only implementation in this package; the interface exists so the
// processor-chain guardrails (PreProcessor, PostProcessor, PostToolProcessor)
// have a stable target independent of any one agent implementation.
type Agent interface {
	Name() string
	Description() string
	Execute(ctx context.Context, task AgentTask) (AgentResult, error)
}

// AgentTask is the input to an Agent.
type AgentTask struct {
	// Input is the natural language task description.
	Input string
	// Context carries optional metadata (thread ID, user ID, etc.).
	Context map[string]string
}

// AgentResult is the output of an Agent.
type AgentResult struct {
	// Output is the agent's final response text.
	Output string
	// Usage tracks aggregate token usage across all LLM calls.
	Usage Usage
}

// AgentTool defines an agent capability with one or more tool functions,
// dispatched by name via direct function calling. Distinct from the
// dot-path Tool (tool.go): that one is sandboxed and gated through the
// ToolTree/Runner; AgentTool is the simpler direct-calling path LLMAgent
// uses when code execution isn't needed.
type AgentTool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolRegistry holds AgentTools and dispatches execution by name.
type ToolRegistry struct {
	tools []AgentTool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// Add registers a tool.
func (r *ToolRegistry) Add(t AgentTool) {
	r.tools = append(r.tools, t)
}

// AllDefinitions returns tool definitions from all registered tools.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Execute dispatches a call to whichever registered tool declares name.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t.Execute(ctx, name, args)
			}
		}
	}
	return ToolResult{}, &ValidationError{ToolPath: name, Message: "no tool registered with this name"}
}

const defaultMaxIter = 10

// agentConfig accumulates AgentOption settings before NewLLMAgent builds the LLMAgent.
type agentConfig struct {
	tools      []AgentTool
	processors []any
	maxIter    int
}

// AgentOption configures an LLMAgent at construction time.
type AgentOption func(*agentConfig)

// WithAgentTools registers one or more AgentTools on the agent.
func WithAgentTools(tools ...AgentTool) AgentOption {
	return func(c *agentConfig) { c.tools = append(c.tools, tools...) }
}

// WithProcessors adds one or more guardrail processors to the agent's chain.
// Each must implement at least one of PreProcessor, PostProcessor, or
// PostToolProcessor; ProcessorChain.Add panics otherwise.
func WithProcessors(procs ...any) AgentOption {
	return func(c *agentConfig) { c.processors = append(c.processors, procs...) }
}

// WithMaxIterations caps the number of tool-calling rounds before LLMAgent
// forces a final synthesis response. Default: 10.
func WithMaxIterations(n int) AgentOption {
	return func(c *agentConfig) { c.maxIter = n }
}

func buildAgentConfig(opts []AgentOption) agentConfig {
	var cfg agentConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// LLMAgent is an Agent that uses an LLM with AgentTools to complete tasks,
// running PreProcessor/PostProcessor/PostToolProcessor guardrails around
// every LLM call and tool execution.
type LLMAgent struct {
	name        string
	description string
	provider    Provider
	tools       *ToolRegistry
	processors  *ProcessorChain
	maxIter     int
}

// NewLLMAgent creates an LLMAgent with the given provider and options.
func NewLLMAgent(name, description string, provider Provider, opts ...AgentOption) *LLMAgent {
	cfg := buildAgentConfig(opts)
	a := &LLMAgent{
		name:        name,
		description: description,
		provider:    provider,
		tools:       NewToolRegistry(),
		processors:  NewProcessorChain(),
		maxIter:     defaultMaxIter,
	}
	if cfg.maxIter > 0 {
		a.maxIter = cfg.maxIter
	}
	for _, t := range cfg.tools {
		a.tools.Add(t)
	}
	for _, p := range cfg.processors {
		a.processors.Add(p)
	}
	return a
}

func (a *LLMAgent) Name() string        { return a.name }
func (a *LLMAgent) Description() string { return a.description }

// Execute runs the tool-calling loop until the LLM produces a final text
// response, or maxIter rounds pass, in which case it forces a synthesis.
func (a *LLMAgent) Execute(ctx context.Context, task AgentTask) (AgentResult, error) {
	var totalUsage Usage
	messages := []ChatMessage{UserMessage(task.Input)}
	toolDefs := a.tools.AllDefinitions()

	for i := 0; i < a.maxIter; i++ {
		req := ChatRequest{Messages: messages}

		if err := a.processors.RunPreLLM(ctx, &req); err != nil {
			return handleAgentProcessorError(err, totalUsage)
		}

		var resp ChatResponse
		var err error
		if len(toolDefs) > 0 {
			resp, err = a.provider.ChatWithTools(ctx, req, toolDefs)
		} else {
			resp, err = a.provider.Chat(ctx, req)
		}
		if err != nil {
			return AgentResult{Usage: totalUsage}, err
		}
		totalUsage.InputTokens += resp.Usage.InputTokens
		totalUsage.OutputTokens += resp.Usage.OutputTokens

		if err := a.processors.RunPostLLM(ctx, &resp); err != nil {
			return handleAgentProcessorError(err, totalUsage)
		}

		if len(resp.ToolCalls) == 0 {
			return AgentResult{Output: resp.Content, Usage: totalUsage}, nil
		}

		messages = append(messages, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			result, execErr := a.tools.Execute(ctx, tc.Name, tc.Args)
			content := result.Content
			if execErr != nil {
				content = "error: " + execErr.Error()
			} else if result.Error != "" {
				content = "error: " + result.Error
			}

			result.Content = content
			if err := a.processors.RunPostTool(ctx, tc, &result); err != nil {
				return handleAgentProcessorError(err, totalUsage)
			}

			messages = append(messages, ToolResultMessage(tc.ID, result.Content))
		}
	}

	log.Printf("[agent:%s] max iterations reached, forcing synthesis", a.name)
	messages = append(messages, UserMessage(
		"You have used all available tool calls. Summarize what you found and respond to the user."))
	resp, err := a.provider.Chat(ctx, ChatRequest{Messages: messages})
	if err != nil {
		return AgentResult{Usage: totalUsage}, err
	}
	totalUsage.InputTokens += resp.Usage.InputTokens
	totalUsage.OutputTokens += resp.Usage.OutputTokens

	return AgentResult{Output: resp.Content, Usage: totalUsage}, nil
}

// handleAgentProcessorError converts a processor error into an AgentResult.
// ErrHalt produces a graceful result; other errors propagate as failures.
func handleAgentProcessorError(err error, usage Usage) (AgentResult, error) {
	var halt *ErrHalt
	if errors.As(err, &halt) {
		return AgentResult{Output: halt.Response, Usage: usage}, nil
	}
	return AgentResult{Usage: usage}, err
}

var _ Agent = (*LLMAgent)(nil)
