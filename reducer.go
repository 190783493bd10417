package taskweave

import "fmt"

// ReducedState is the renderable projection of a Task's event log: any
// front-end (terminal UI, web, chat) consumes this shape rather than the
// raw event stream.
type ReducedState struct {
	Status           TaskStatus        `json:"status"`
	StatusMessage    string            `json:"status_message"`
	CodeBlocks       []string          `json:"code_blocks,omitempty"`
	ToolResults      []string          `json:"tool_results,omitempty"`
	PendingApprovals []ApprovalRequest `json:"pending_approvals,omitempty"`
	AgentMessage     string            `json:"agent_message,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// Reduce folds a single event into state, returning the updated state.
// It is pure and total: every TaskEventType has a defined rule, and an
// unrecognized Type leaves state unchanged.
func Reduce(state ReducedState, event TaskEvent) ReducedState {
	switch event.Type {
	case EventStatus:
		state.StatusMessage = event.Message

	case EventCodeGenerated:
		state.CodeBlocks = append(state.CodeBlocks, event.Code)
		state.StatusMessage = "Running code..."

	case EventCodeResult:
		// Surfaced via the tool_result receipts and the final agent_message;
		// code_result itself only needed to drive statusMessage above.

	case EventApprovalRequest:
		if event.Approval != nil {
			state.PendingApprovals = append(state.PendingApprovals, *event.Approval)
		}
		state.StatusMessage = "Waiting for approval..."

	case EventApprovalResolved:
		state.PendingApprovals = removeApproval(state.PendingApprovals, event.ApprovalCallID)
		if event.ApprovalDecision == DecisionApproved {
			state.StatusMessage = "Approved, continuing..."
		} else {
			state.StatusMessage = "Denied, continuing..."
		}

	case EventToolResult:
		if event.Receipt != nil {
			state.ToolResults = append(state.ToolResults, summarizeReceipt(*event.Receipt))
		}

	case EventAgentMessage:
		state.AgentMessage = event.Message
		state.StatusMessage = "Done"

	case EventError:
		state.Status = TaskFailed
		state.Error = event.Message
		state.StatusMessage = "Failed"

	case EventCompleted:
		state.Status = TaskCompleted
		state.StatusMessage = "Completed"
	}

	return state
}

func removeApproval(pending []ApprovalRequest, callID string) []ApprovalRequest {
	out := make([]ApprovalRequest, 0, len(pending))
	for _, p := range pending {
		if p.CallID != callID {
			out = append(out, p)
		}
	}
	return out
}

// summarizeReceipt renders a one-line, icon-prefixed summary of a tool
// call's outcome for display in a reduced state's tool-results feed.
func summarizeReceipt(r ToolCallReceipt) string {
	icon := "❌"
	switch r.Status {
	case ReceiptSucceeded:
		icon = "✅"
	case ReceiptDenied:
		icon = "⛔"
	}
	if r.Error != "" {
		return fmt.Sprintf("%s %s: %s", icon, r.ToolPath, r.Error)
	}
	return fmt.Sprintf("%s %s", icon, r.ToolPath)
}
