package taskweave

// TaskEventType identifies the kind of a TaskEvent. Unlike StreamEvent (the
// LLM-streaming protocol), a TaskEvent is published on a Task's event log and
// is the unit the orchestrator replays to subscribers and the reducer folds.
type TaskEventType string

const (
	EventStatus           TaskEventType = "status"
	EventCodeGenerated    TaskEventType = "code_generated"
	EventCodeResult       TaskEventType = "code_result"
	EventApprovalRequest  TaskEventType = "approval_request"
	EventApprovalResolved TaskEventType = "approval_resolved"
	EventToolResult       TaskEventType = "tool_result"
	EventAgentMessage     TaskEventType = "agent_message"
	EventError            TaskEventType = "error"
	EventCompleted        TaskEventType = "completed"
)

// Terminal reports whether this event type ends a task's stream.
func (t TaskEventType) Terminal() bool {
	return t == EventCompleted || t == EventError
}

// CodeResultPayload is the data.code_result payload.
type CodeResultPayload struct {
	TaskID   string `json:"task_id,omitempty"`
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TaskEvent is a single entry in a Task's append-only event log. Exactly one
// of the payload fields is meaningful, selected by Type; this mirrors the
// spec's discriminated-union shape in an idiomatic Go struct-of-optionals
// rather than an interface, so JSON encoding stays a single flat object.
type TaskEvent struct {
	Type      TaskEventType `json:"type"`
	Ordinal   int           `json:"ordinal"`
	Timestamp int64         `json:"timestamp"`

	Message string `json:"message,omitempty"` // status, agent_message, error

	Code       string             `json:"code,omitempty"` // code_generated
	CodeResult *CodeResultPayload `json:"code_result,omitempty"`

	Approval         *ApprovalRequest `json:"approval,omitempty"`          // approval_request
	ApprovalCallID   string           `json:"approval_call_id,omitempty"`  // approval_resolved
	ApprovalDecision Decision         `json:"approval_decision,omitempty"` // approval_resolved

	Receipt *ToolCallReceipt `json:"receipt,omitempty"` // tool_result
}

func statusEvent(msg string) TaskEvent       { return TaskEvent{Type: EventStatus, Message: msg} }
func agentMessageEvent(msg string) TaskEvent { return TaskEvent{Type: EventAgentMessage, Message: msg} }
func errorEvent(msg string) TaskEvent        { return TaskEvent{Type: EventError, Message: msg} }
func completedEvent() TaskEvent              { return TaskEvent{Type: EventCompleted} }
func codeGeneratedEvent(code string) TaskEvent {
	return TaskEvent{Type: EventCodeGenerated, Code: code}
}
func codeResultEvent(p CodeResultPayload) TaskEvent {
	return TaskEvent{Type: EventCodeResult, CodeResult: &p}
}
func approvalRequestEvent(r ApprovalRequest) TaskEvent {
	return TaskEvent{Type: EventApprovalRequest, Approval: &r}
}
func approvalResolvedEvent(callID string, d Decision) TaskEvent {
	return TaskEvent{Type: EventApprovalResolved, ApprovalCallID: callID, ApprovalDecision: d}
}
func toolResultEvent(r ToolCallReceipt) TaskEvent {
	return TaskEvent{Type: EventToolResult, Receipt: &r}
}
