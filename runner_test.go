package taskweave

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func echoRunnerTool(approval ApprovalMode) *Tool {
	args := json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`)
	return Define("echo", approval, args, nil, func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	})
}

func TestRunSimpleCompletion(t *testing.T) {
	r := NewRunner()
	result := r.Run(context.Background(), `1 + 1`, RunContext{Tools: NewToolTree()})
	if !result.OK {
		t.Fatalf("expected ok, got error %q", result.Error)
	}
	if string(result.Value) != "2" {
		t.Errorf("expected value 2, got %s", result.Value)
	}
	if len(result.Receipts) != 0 {
		t.Errorf("expected no receipts, got %v", result.Receipts)
	}
}

func TestRunAutoApprovedToolCall(t *testing.T) {
	tree := NewToolTree()
	tree.Define("echo", echoRunnerTool(ApprovalAuto))

	r := NewRunner()
	result := r.Run(context.Background(), `tools.echo({message:"hi"})`, RunContext{Tools: tree})

	if !result.OK {
		t.Fatalf("expected ok, got error %q", result.Error)
	}
	if len(result.Receipts) != 1 {
		t.Fatalf("expected exactly one receipt, got %d", len(result.Receipts))
	}
	receipt := result.Receipts[0]
	if receipt.Status != ReceiptSucceeded || receipt.Decision != DecisionAuto {
		t.Errorf("expected succeeded/auto receipt, got %+v", receipt)
	}
	if !strings.Contains(receipt.OutputPreview, "hi") {
		t.Errorf("expected outputPreview to contain 'hi', got %q", receipt.OutputPreview)
	}
}

func TestRunGatedToolApproved(t *testing.T) {
	tree := NewToolTree()
	tree.Define("danger", echoRunnerTool(ApprovalRequired))

	approve := func(_ context.Context, req ApprovalRequest) (Decision, error) {
		return DecisionApproved, nil
	}

	r := NewRunner()
	result := r.Run(context.Background(), `tools.danger({message:"x"})`, RunContext{Tools: tree, RequestApproval: approve})

	if !result.OK {
		t.Fatalf("expected ok, got error %q", result.Error)
	}
	if len(result.Receipts) != 1 {
		t.Fatalf("expected one receipt, got %d", len(result.Receipts))
	}
	if result.Receipts[0].Status != ReceiptSucceeded || result.Receipts[0].Decision != DecisionApproved {
		t.Errorf("expected succeeded/approved, got %+v", result.Receipts[0])
	}
}

func TestRunGatedToolDenied(t *testing.T) {
	tree := NewToolTree()
	tree.Define("danger", echoRunnerTool(ApprovalRequired))

	deny := func(_ context.Context, req ApprovalRequest) (Decision, error) {
		return DecisionDenied, nil
	}

	r := NewRunner()
	result := r.Run(context.Background(), `
		var r = tools.danger({message:"x"});
		r === undefined
	`, RunContext{Tools: tree, RequestApproval: deny})

	if result.OK {
		t.Error("expected ok=false when a receipt was denied")
	}
	if len(result.Receipts) != 1 || result.Receipts[0].Status != ReceiptDenied {
		t.Fatalf("expected one denied receipt, got %+v", result.Receipts)
	}
	if string(result.Value) != "true" {
		t.Errorf("expected script to observe undefined return, got %s", result.Value)
	}
}

func TestRunValidationFailureRecordsReceiptAndThrows(t *testing.T) {
	tree := NewToolTree()
	tree.Define("echo", echoRunnerTool(ApprovalAuto))

	r := NewRunner()
	result := r.Run(context.Background(), `tools.echo({})`, RunContext{Tools: tree})

	if result.OK {
		t.Error("expected ok=false on a thrown validation error")
	}
	if len(result.Receipts) != 1 || result.Receipts[0].Status != ReceiptFailed {
		t.Fatalf("expected one failed receipt, got %+v", result.Receipts)
	}
}

func TestRunToolExecutionErrorRecordsReceiptAndThrows(t *testing.T) {
	tree := NewToolTree()
	failing := Define("fail", ApprovalAuto, nil, nil, func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, &InternalError{Message: "kaboom"}
	})
	tree.Define("fail", failing)

	r := NewRunner()
	result := r.Run(context.Background(), `tools.fail({})`, RunContext{Tools: tree})

	if result.OK {
		t.Error("expected ok=false on tool execution error")
	}
	if len(result.Receipts) != 1 || result.Receipts[0].Status != ReceiptFailed {
		t.Fatalf("expected one failed receipt, got %+v", result.Receipts)
	}
}

func TestRunTimeoutReturnsFailureWithReceiptsSoFar(t *testing.T) {
	tree := NewToolTree()
	tree.Define("echo", echoRunnerTool(ApprovalAuto))

	r := NewRunner()
	result := r.Run(context.Background(), `
		tools.echo({message:"first"});
		while (true) {}
	`, RunContext{Tools: tree, TimeoutMs: 50})

	if result.OK {
		t.Error("expected ok=false on timeout")
	}
	if result.Error != "timeout" {
		t.Errorf("expected error 'timeout', got %q", result.Error)
	}
	if len(result.Receipts) != 1 {
		t.Errorf("expected the receipt recorded before the infinite loop to survive, got %v", result.Receipts)
	}
}

func TestRunNoAmbientAuthorityBeyondTools(t *testing.T) {
	cases := []string{
		`fetch("http://example.com")`,
		`require("fs")`,
		`process.exit(0)`,
		`setTimeout(function(){}, 10)`,
	}
	r := NewRunner()
	for _, code := range cases {
		result := r.Run(context.Background(), code, RunContext{Tools: NewToolTree()})
		if result.OK {
			t.Errorf("expected code %q to fail (no ambient authority), got ok", code)
		}
	}
}

func TestRunDeterministicCallIDAndClock(t *testing.T) {
	tree := NewToolTree()
	tree.Define("echo", echoRunnerTool(ApprovalAuto))

	fixedTime := time.Unix(1700000000, 0)
	calls := 0
	newCallID := func() string {
		calls++
		return "fixed-call-id"
	}

	r := NewRunner()
	result := r.Run(context.Background(), `tools.echo({message:"hi"})`, RunContext{
		Tools:     tree,
		Now:       func() time.Time { return fixedTime },
		NewCallID: newCallID,
	})

	if len(result.Receipts) != 1 {
		t.Fatalf("expected one receipt, got %d", len(result.Receipts))
	}
	if result.Receipts[0].CallID != "fixed-call-id" {
		t.Errorf("expected injected call id, got %q", result.Receipts[0].CallID)
	}
	if result.Receipts[0].Timestamp != fixedTime.Unix() {
		t.Errorf("expected injected clock value, got %d", result.Receipts[0].Timestamp)
	}
	if calls != 1 {
		t.Errorf("expected NewCallID to be called exactly once, got %d", calls)
	}
}

func TestPreviewForDefaultFormatterInfersVerbAndResource(t *testing.T) {
	input := json.RawMessage(`{"id":"42"}`)
	preview := previewFor(&Tool{}, "github.issues.close", input)
	if !strings.Contains(preview.Title, "issues") {
		t.Errorf("expected resource 'issues' in title, got %q", preview.Title)
	}
	if !strings.Contains(preview.Title, "42") {
		t.Errorf("expected candidate id in title, got %q", preview.Title)
	}
}

func TestBoundTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("a", previewLimit+50)
	got := bound(long, previewLimit)
	if len([]rune(got)) != previewLimit+1 { // +1 for the ellipsis rune
		t.Errorf("expected truncated string of length %d, got %d", previewLimit+1, len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("expected truncated string to end with an ellipsis")
	}
}

func TestBoundLeavesShortStringsUnchanged(t *testing.T) {
	short := "hello"
	if got := bound(short, previewLimit); got != short {
		t.Errorf("expected unchanged short string, got %q", got)
	}
}
