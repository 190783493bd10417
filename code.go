package taskweave

import (
	"context"
	"encoding/json"
	"time"
)

// CodeRunner executes code written by an LLM in a sandboxed environment.
// Implementations control the runtime (HTTP sandbox, container, Wasm).
// The dispatch function bridges code back to the agent's tool tree,
// enabling code to call any tool the task has access to. This is the
// secondary, out-of-process execution path (code/ + cmd/sandbox); the
// primary in-process path is Runner (runner.go), which binds a ToolTree
// directly into a goja runtime without needing a dispatch callback at all.
type CodeRunner interface {
	// Run executes code and returns the result. The dispatch function
	// allows code to call agent tools via call_tool() from within the code.
	Run(ctx context.Context, req CodeRequest, dispatch DispatchFunc) (CodeResult, error)
}

// DispatchResult is a dispatched tool call's outcome, as reported back
// across the process boundary to an out-of-process CodeRunner.
type DispatchResult struct {
	Content string
	IsError bool
}

// DispatchFunc resolves a single tool call by name against some tool
// source and returns its result. It never returns a Go error: failures are
// folded into DispatchResult.IsError, since the wire protocol back to the
// subprocess has no separate error channel.
type DispatchFunc func(ctx context.Context, call ToolCall) DispatchResult

// WithCodeExecution asserts that r implements CodeRunner and returns it
// unchanged. Out-of-process runners (code/http.go, code/subprocess.go) use
// it as a compile-time check that they still satisfy the interface the
// agent loop dispatches to.
func WithCodeExecution(r CodeRunner) CodeRunner { return r }

// DispatchViaTree builds a DispatchFunc that resolves call.Name as a
// dot-path into tree and invokes it, gating ApprovalRequired tools through
// approve and recording exactly one ToolCallReceipt per call via onReceipt —
// the same schema-validation, approval-gating and audit semantics Runner's
// in-process leafFunc applies, so an out-of-process CodeRunner's tool calls
// are indistinguishable from the goja sandbox's at the receipt/approval
// layer. Either argument may be nil: a nil approve auto-approves gated
// calls (no approval engine configured), a nil onReceipt just drops receipts.
func DispatchViaTree(tree *ToolTree, approve RequestApprovalFunc, onReceipt func(ToolCallReceipt)) DispatchFunc {
	record := func(r ToolCallReceipt) {
		if onReceipt != nil {
			onReceipt(r)
		}
	}

	return func(ctx context.Context, call ToolCall) DispatchResult {
		tool, err := tree.Lookup(call.Name)
		if err != nil {
			return DispatchResult{Content: err.Error(), IsError: true}
		}

		callID := call.ID
		if callID == "" {
			callID = NewID()
		}
		ts := time.Now().Unix()
		input := call.Args
		if len(input) == 0 {
			input = json.RawMessage("null")
		}
		preview := bound(string(input), previewLimit)

		if err := validateAgainstSchema(tool.ArgsSchema, input); err != nil {
			verr := &ValidationError{ToolPath: call.Name, Message: err.Error()}
			record(ToolCallReceipt{
				CallID: callID, ToolPath: call.Name, Approval: tool.Approval, Decision: DecisionAuto,
				Status: ReceiptFailed, Timestamp: ts, InputPreview: preview, Error: verr.Error(),
			})
			return DispatchResult{Content: verr.Error(), IsError: true}
		}

		decision := DecisionAuto
		if tool.Approval == ApprovalRequired {
			req := ApprovalRequest{CallID: callID, ToolPath: call.Name, Input: input, Preview: previewFor(tool, call.Name, input)}
			d, err := dispatchApprove(ctx, approve, req)
			if err != nil {
				record(ToolCallReceipt{
					CallID: callID, ToolPath: call.Name, Approval: tool.Approval, Decision: DecisionDenied,
					Status: ReceiptFailed, Timestamp: ts, InputPreview: preview, Error: err.Error(),
				})
				return DispatchResult{Content: err.Error(), IsError: true}
			}
			decision = d
			if decision == DecisionDenied {
				record(ToolCallReceipt{
					CallID: callID, ToolPath: call.Name, Approval: tool.Approval, Decision: DecisionDenied,
					Status: ReceiptDenied, Timestamp: ts, InputPreview: preview,
				})
				return DispatchResult{Content: "denied", IsError: true}
			}
		}

		out, err := tool.Run(ctx, input)
		if err != nil {
			execErr := &ToolExecutionError{ToolPath: call.Name, Cause: err}
			record(ToolCallReceipt{
				CallID: callID, ToolPath: call.Name, Approval: tool.Approval, Decision: decision,
				Status: ReceiptFailed, Timestamp: ts, InputPreview: preview, Error: execErr.Error(),
			})
			return DispatchResult{Content: execErr.Error(), IsError: true}
		}

		record(ToolCallReceipt{
			CallID: callID, ToolPath: call.Name, Approval: tool.Approval, Decision: decision,
			Status: ReceiptSucceeded, Timestamp: ts, InputPreview: preview,
			OutputPreview: bound(string(out), previewLimit),
		})

		if len(out) == 0 {
			return DispatchResult{Content: "null"}
		}
		return DispatchResult{Content: string(out)}
	}
}

func dispatchApprove(ctx context.Context, approve RequestApprovalFunc, req ApprovalRequest) (Decision, error) {
	if approve == nil {
		return DecisionAuto, nil
	}
	return approve(ctx, req)
}

// CodeRequest is the input to CodeRunner.Run.
type CodeRequest struct {
	// Code is the source code to execute.
	Code string `json:"code"`
	// Runtime selects the execution environment ("python", "node").
	// Empty defaults to "python".
	Runtime string `json:"runtime,omitempty"`
	// Timeout is the maximum execution duration. Zero means use runner default.
	Timeout time.Duration `json:"-"`
	// SessionID enables workspace persistence across executions.
	// Same session ID = same workspace directory. Empty = isolated per execution.
	SessionID string `json:"session_id,omitempty"`
	// Files are placed in the workspace before execution.
	// For input: populate Name + Data (inline) or Name + URL (sandbox downloads).
	Files []CodeFile `json:"files,omitempty"`
}

// CodeResult is the output of CodeRunner.Run.
type CodeResult struct {
	// Output is the structured result set via set_result() in code.
	Output string `json:"output"`
	// Logs captures print() output and stderr from the code execution.
	Logs string `json:"logs,omitempty"`
	// ExitCode is the process exit code (0 = success).
	ExitCode int `json:"exit_code"`
	// Error describes execution failure (timeout, syntax error, etc).
	Error string `json:"error,omitempty"`
	// Files are explicitly returned by the code via set_result(files=[...]).
	Files []CodeFile `json:"files,omitempty"`
}

// CodeFile represents a file transferred between app and sandbox.
//
// For input: Name + Data (inline bytes) or Name + URL (sandbox downloads via HTTP GET).
// For output: Name + MIME + Data (always inline).
type CodeFile struct {
	// Name is the filename (e.g. "chart.png", "data.csv").
	Name string `json:"name"`
	// MIME is the media type (e.g. "image/png"). Set on output files.
	MIME string `json:"mime,omitempty"`
	// Data holds inline file bytes. Tagged json:"-" to avoid double-encoding;
	// wire format uses base64 in a separate field.
	Data []byte `json:"-"`
	// URL is an alternative to Data: the sandbox downloads via HTTP GET.
	// Future: not yet implemented by the reference sandbox.
	URL string `json:"url,omitempty"`
}
