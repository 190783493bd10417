package taskweave

import (
	"encoding/base64"
	"encoding/json"
)

// --- LLM protocol types ---
//
// These types are the wire shape of the Generate capability a Provider
// implements (see provider.go). The agent loop speaks only this protocol;
// it never depends on a specific model vendor.

type ChatMessage struct {
	Role        string          `json:"role"` // "system", "user", "assistant", "tool"
	Content     string          `json:"content"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	ToolCalls   []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID  string          `json:"tool_call_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"` // provider-specific (e.g. Gemini thoughtSignature)
}

// Attachment represents binary content (image, PDF, audio, etc.) sent to a
// multimodal LLM. Either Base64 (sent inline) or URL (a provider-hosted file
// reference) is set, never both; the MimeType determines how the provider
// interprets the data either way.
type Attachment struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64,omitempty"`
	URL      string `json:"url,omitempty"`
}

// InlineData decodes the attachment's Base64 field into raw bytes. Returns
// nil if Base64 is empty (e.g. the attachment is a URL reference instead) or
// malformed.
func (a Attachment) InlineData() []byte {
	if a.Base64 == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(a.Base64)
	if err != nil {
		return nil
	}
	return data
}

type ToolCall struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ResponseSchema tells the provider to enforce structured JSON output.
// When set on a ChatRequest, the provider translates it to its native
// structured output mechanism (e.g. Gemini responseSchema, OpenAI response_format).
type ResponseSchema struct {
	Name   string          `json:"name"`   // schema identifier (required by some providers)
	Schema json.RawMessage `json:"schema"` // JSON Schema object
}

type ChatRequest struct {
	Messages       []ChatMessage   `json:"messages"`
	ResponseSchema *ResponseSchema `json:"response_schema,omitempty"`

	// GenerationParams carries provider-specific sampling overrides (temperature,
	// topP, thinking budget, and the like) that a caller wants applied to this
	// request only, layered on top of the provider's own configured defaults.
	// Opaque to the taskweave core; each provider decides how to interpret it.
	GenerationParams json.RawMessage `json:"generation_params,omitempty"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolResult is the outcome of a single legacy-style tool call, as seen by
// the guardrail PostToolProcessor hook. It predates the dot-path ToolTree
// and stays only as the shape that chain hook operates on.
type ToolResult struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}

// --- Core domain types ---

// ApprovalMode controls whether a tool call executes immediately or must
// be gated through the Approval Engine.
type ApprovalMode string

const (
	ApprovalAuto     ApprovalMode = "auto"
	ApprovalRequired ApprovalMode = "required"
)

// Decision is the outcome of resolving an approval, either by a human
// responder or by an ApprovalRule.
type Decision string

const (
	DecisionAuto     Decision = "auto"
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// ReceiptStatus is the terminal outcome of a single tool invocation.
type ReceiptStatus string

const (
	ReceiptSucceeded ReceiptStatus = "succeeded"
	ReceiptFailed    ReceiptStatus = "failed"
	ReceiptDenied    ReceiptStatus = "denied"
)

// ApprovalPreview is the human-facing summary of a gated call, either
// supplied by the tool's FormatApproval or inferred from its path and input.
type ApprovalPreview struct {
	Title   string `json:"title"`
	Details string `json:"details,omitempty"`
	Link    string `json:"link,omitempty"`
}

// ToolCallReceipt is the immutable audit record of one tool invocation
// made from inside a sandbox run. Exactly one receipt is appended per call,
// regardless of outcome.
type ToolCallReceipt struct {
	CallID        string        `json:"call_id"`
	ToolPath      string        `json:"tool_path"`
	Approval      ApprovalMode  `json:"approval"`
	Decision      Decision      `json:"decision"`
	Status        ReceiptStatus `json:"status"`
	Timestamp     int64         `json:"timestamp"`
	InputPreview  string        `json:"input_preview"`
	OutputPreview string        `json:"output_preview,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// ApprovalRequest is published when a gated tool call blocks on a decision.
type ApprovalRequest struct {
	CallID   string          `json:"call_id"`
	ToolPath string          `json:"tool_path"`
	Input    json.RawMessage `json:"input"`
	Preview  ApprovalPreview `json:"preview"`
}

// RuleOperator is the comparison an ApprovalRule applies to a field.
type RuleOperator string

const (
	OpEquals      RuleOperator = "equals"
	OpNotEquals   RuleOperator = "not_equals"
	OpIncludes    RuleOperator = "includes"
	OpNotIncludes RuleOperator = "not_includes"
)

// ApprovalRule auto-resolves the current and future pending approvals on a
// single task that match it. Order of addition defines priority: first match wins.
type ApprovalRule struct {
	ID       string       `json:"id"`
	ToolPath string       `json:"tool_path"`
	Field    string       `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    string       `json:"value"`
	Decision Decision     `json:"decision"`
}

// TaskStatus is the lifecycle state of a Task. Transitions are one-way:
// running is the only non-terminal status.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Terminal() bool { return s != TaskRunning }
