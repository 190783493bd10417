package taskweave

import (
	"context"
	"encoding/json"
	"fmt"
)

// defaultMaxRounds bounds how many times the agent loop will execute
// model-generated code before giving up and reporting its budget exhausted.
const defaultMaxRounds = 20

const runCodeToolName = "run_code"

var runCodeParams = json.RawMessage(`{"type":"object","properties":{"code":{"type":"string","description":"code to execute in the sandbox"}},"required":["code"]}`)

// GenerateFunc is the model capability the agent loop drives: given the
// running message history and the tool catalog offered to the model,
// produce a response that may contain tool calls. It is normally a
// Provider.ChatWithTools method value, optionally wrapped by WithRetry /
// WithRateLimit.
type GenerateFunc func(ctx context.Context, req ChatRequest, tools []ToolDefinition) (ChatResponse, error)

// loopConfig holds the agent loop's tunables, set via LoopOption.
type loopConfig struct {
	maxRounds  int
	guardrails *ProcessorChain
	codeRunner CodeRunner
}

// LoopOption configures RunAgentLoop.
type LoopOption func(*loopConfig)

// WithMaxRounds overrides the default round budget (20).
func WithMaxRounds(n int) LoopOption {
	return func(c *loopConfig) { c.maxRounds = n }
}

// WithGuardrails installs a pre/post-LLM processor chain (injection
// detection, content limits, keyword blocks, tool-call caps). Hooks run
// immediately around every Generate call.
func WithGuardrails(chain *ProcessorChain) LoopOption {
	return func(c *loopConfig) { c.guardrails = chain }
}

// WithCodeRunner replaces the default in-process goja Runner with an
// out-of-process CodeRunner (code/http.go's HTTPRunner, code/subprocess.go's
// SubprocessRunner) for every run_code call. Tool calls made from inside
// the dispatched code still go through DispatchViaTree's approval gating
// and receipt recording, so the audit trail is the same as the in-process
// path regardless of which executes the code.
func WithCodeRunner(cr CodeRunner) LoopOption {
	return func(c *loopConfig) { c.codeRunner = cr }
}

// RunAgentLoop drives prompt to completion: it alternates between asking
// generate for the next step and executing any run_code call it produces
// against tools via runner, publishing a TaskEvent at each state change.
// publish is called synchronously and must not block; the orchestrator's
// Emit satisfies this.
func RunAgentLoop(
	ctx context.Context,
	prompt string,
	generate GenerateFunc,
	tools *ToolTree,
	runner *Runner,
	approve RequestApprovalFunc,
	publish func(TaskEvent),
	opts ...LoopOption,
) {
	cfg := loopConfig{maxRounds: defaultMaxRounds}
	for _, opt := range opts {
		opt(&cfg)
	}

	systemPrompt := buildSystemPrompt(tools)
	messages := []ChatMessage{
		SystemMessage(systemPrompt),
		UserMessage(prompt),
	}
	toolDefs := []ToolDefinition{{
		Name:        runCodeToolName,
		Description: "Execute JavaScript against the tools object to accomplish the task. This is the only way to take action.",
		Parameters:  runCodeParams,
	}}

	publish(statusEvent("Thinking..."))

	for round := 0; round < cfg.maxRounds; round++ {
		if ctx.Err() != nil {
			return
		}

		req := ChatRequest{Messages: messages}
		if cfg.guardrails != nil {
			if err := cfg.guardrails.RunPreLLM(ctx, &req); err != nil {
				haltOrError(err, publish)
				return
			}
		}

		resp, err := generate(ctx, req, toolDefs)
		if err != nil {
			publish(errorEvent(err.Error()))
			publish(completedEvent())
			return
		}

		if cfg.guardrails != nil {
			if err := cfg.guardrails.RunPostLLM(ctx, &resp); err != nil {
				haltOrError(err, publish)
				return
			}
		}

		if len(resp.ToolCalls) == 0 {
			publish(agentMessageEvent(resp.Content))
			publish(completedEvent())
			return
		}

		messages = append(messages, AssistantMessage(resp.Content))

		for _, tc := range resp.ToolCalls {
			if tc.Name != runCodeToolName {
				messages = append(messages, ToolResultMessage(tc.ID, fmt.Sprintf("unknown tool %q; the only callable tool is %q", tc.Name, runCodeToolName)))
				continue
			}

			var args struct {
				Code string `json:"code"`
			}
			if err := json.Unmarshal(tc.Args, &args); err != nil {
				messages = append(messages, ToolResultMessage(tc.ID, fmt.Sprintf("invalid run_code args: %s", err)))
				continue
			}

			if cfg.guardrails != nil {
				if err := cfg.guardrails.RunPreCode(ctx, args.Code); err != nil {
					haltOrError(err, publish)
					return
				}
			}

			publish(codeGeneratedEvent(args.Code))
			publish(statusEvent("Running code..."))

			gatedApprove := func(ctx context.Context, req ApprovalRequest) (Decision, error) {
				publish(approvalRequestEvent(req))
				d, err := approve(ctx, req)
				if err == nil {
					publish(approvalResolvedEvent(req.CallID, d))
				}
				return d, err
			}

			var result RunResult
			if cfg.codeRunner != nil {
				var receipts []ToolCallReceipt
				dispatch := DispatchViaTree(tools, gatedApprove, func(r ToolCallReceipt) {
					receipts = append(receipts, r)
				})
				codeResult, err := cfg.codeRunner.Run(ctx, CodeRequest{Code: args.Code}, dispatch)
				result = runResultFromCodeResult(codeResult, err, receipts)
			} else {
				result = runner.Run(ctx, args.Code, RunContext{Tools: tools, RequestApproval: gatedApprove})
			}

			for _, receipt := range result.Receipts {
				publish(toolResultEvent(receipt))
			}

			payload := codeResultPayload(result)
			publish(codeResultEvent(payload))
			messages = append(messages, ToolResultMessage(tc.ID, toolResultMessageText(result)))
		}
	}

	publish(agentMessageEvent("Reached maximum number of code executions."))
	publish(completedEvent())
}

// haltOrError folds a guardrail halt into a graceful agent_message +
// completed, same as a model answering with plain text; any other
// guardrail error is a genuine failure.
func haltOrError(err error, publish func(TaskEvent)) {
	if halt, ok := err.(*ErrHalt); ok {
		publish(agentMessageEvent(halt.Response))
		publish(completedEvent())
		return
	}
	publish(errorEvent(err.Error()))
	publish(completedEvent())
}

// runResultFromCodeResult adapts an out-of-process CodeRunner's CodeResult
// (plus any transport-level error and the receipts DispatchViaTree recorded
// along the way) into the same RunResult shape the in-process Runner
// returns, so the rest of the loop treats both execution paths identically.
func runResultFromCodeResult(cr CodeResult, err error, receipts []ToolCallReceipt) RunResult {
	if err != nil {
		return RunResult{OK: false, Error: err.Error(), Receipts: receipts}
	}
	if cr.Error != "" {
		return RunResult{OK: false, Error: cr.Error, Receipts: receipts}
	}
	var value json.RawMessage
	if cr.Output != "" {
		value = json.RawMessage(cr.Output)
	}
	return RunResult{OK: true, Value: value, Receipts: receipts}
}

func codeResultPayload(result RunResult) CodeResultPayload {
	if result.OK {
		return CodeResultPayload{Status: "completed", Stdout: string(result.Value)}
	}
	return CodeResultPayload{Status: "failed", Error: result.Error}
}

// toolResultMessageText is the standardized shape fed back to the model:
// success carries the return value, failure carries the error, both as a
// single JSON object so the model can branch on "status".
func toolResultMessageText(result RunResult) string {
	if result.OK {
		out, _ := json.Marshal(map[string]any{"status": "completed", "value": json.RawMessage(nonEmpty(result.Value))})
		return string(out)
	}
	out, _ := json.Marshal(map[string]any{"status": "failed", "error": result.Error})
	return string(out)
}

func nonEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// buildSystemPrompt frames the model's role and appends the tool catalog
// and the single-tool-convention instructions.
func buildSystemPrompt(tools *ToolTree) string {
	return "You are an autonomous coding agent. You accomplish tasks by writing and " +
		"executing JavaScript code that calls the `tools` object described below. " +
		"You have exactly one action available: call the run_code tool with the code " +
		"you want to run. Inspect the result it returns, then either call run_code " +
		"again or answer in plain text when you are done.\n\n" +
		"Available tools:\n" + renderSignatures(tools)
}
