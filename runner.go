package taskweave

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/text/unicode/norm"
)

// defaultTimeout is the wall-clock budget for a single Run, unless RunContext
// overrides it.
const defaultTimeout = 30 * time.Second

const previewLimit = 180

// RequestApprovalFunc blocks until a gated call is resolved. It is normally
// backed by an ApprovalEngine; tests can substitute a stub.
type RequestApprovalFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

// RunContext carries the per-call hooks a Runner needs. Now and NewCallID
// are injectable so tests get reproducible timestamps and ids.
type RunContext struct {
	Tools           *ToolTree
	RequestApproval RequestApprovalFunc
	TimeoutMs       int64
	Now             func() time.Time
	NewCallID       func() string
}

// RunResult is the outcome of one sandbox evaluation.
type RunResult struct {
	OK       bool
	Value    json.RawMessage
	Error    string
	Receipts []ToolCallReceipt
}

// Runner executes model-generated code against a ToolTree inside an
// isolated goja.Runtime. Each call to Run gets a fresh runtime: no state
// leaks between evaluations.
type Runner struct{}

// NewRunner constructs a Runner. Runner holds no state of its own — every
// Run call is fully isolated — so one instance is shared across all tasks.
func NewRunner() *Runner { return &Runner{} }

// Run evaluates code against runCtx.Tools, gating ApprovalRequired calls
// through runCtx.RequestApproval. It never panics or returns a Go error to
// the caller: every failure mode is folded into the returned RunResult.
func (r *Runner) Run(ctx context.Context, code string, runCtx RunContext) RunResult {
	timeout := defaultTimeout
	if runCtx.TimeoutMs > 0 {
		timeout = time.Duration(runCtx.TimeoutMs) * time.Millisecond
	}
	now := runCtx.Now
	if now == nil {
		now = time.Now
	}
	newCallID := runCtx.NewCallID
	if newCallID == nil {
		newCallID = NewID
	}

	runCtx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vm := goja.New()
	sess := &runSession{
		ctx:       runCtx2,
		vm:        vm,
		tools:     runCtx.Tools,
		approve:   runCtx.RequestApproval,
		now:       now,
		newCallID: newCallID,
	}

	toolsObj, err := sess.buildToolsObject()
	if err != nil {
		return RunResult{OK: false, Error: fmt.Sprintf("building sandbox: %s", err), Receipts: sess.receipts}
	}
	if err := vm.Set("tools", toolsObj); err != nil {
		return RunResult{OK: false, Error: fmt.Sprintf("binding sandbox: %s", err), Receipts: sess.receipts}
	}

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("timeout")
	})
	defer timer.Stop()

	done := make(chan goja.Value, 1)
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				errCh <- fmt.Errorf("panic: %v", p)
			}
		}()
		v, err := vm.RunString(code)
		if err != nil {
			errCh <- err
			return
		}
		done <- v
	}()

	select {
	case v := <-done:
		return RunResult{OK: !sess.hasDenied(), Value: valueToJSON(v), Receipts: sess.receipts}
	case err := <-errCh:
		if isInterrupted(err) {
			return RunResult{OK: false, Error: "timeout", Receipts: sess.receipts}
		}
		return RunResult{OK: false, Error: err.Error(), Receipts: sess.receipts}
	case <-runCtx2.Done():
		vm.Interrupt("timeout")
		select {
		case <-done:
		case <-errCh:
		case <-time.After(time.Second):
		}
		return RunResult{OK: false, Error: "timeout", Receipts: sess.receipts}
	}
}

func isInterrupted(err error) bool {
	_, ok := err.(*goja.InterruptedError)
	return ok
}

func valueToJSON(v goja.Value) json.RawMessage {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	exported := v.Export()
	raw, err := json.Marshal(exported)
	if err != nil {
		return nil
	}
	return raw
}

// runSession holds the mutable state of one Run call: the receipts
// accumulated so far and the callback closures bound into the sandbox.
type runSession struct {
	ctx       context.Context
	vm        *goja.Runtime
	tools     *ToolTree
	approve   RequestApprovalFunc
	now       func() time.Time
	newCallID func() string
	receipts  []ToolCallReceipt
}

func (s *runSession) hasDenied() bool {
	for _, r := range s.receipts {
		if r.Status == ReceiptDenied {
			return true
		}
	}
	return false
}

// buildToolsObject walks the tree and materializes nested plain JS objects
// whose leaves are goja function values bound to invokeLeaf.
func (s *runSession) buildToolsObject() (*goja.Object, error) {
	root := s.vm.NewObject()
	if s.tools == nil {
		return root, nil
	}
	if err := s.mountInto(root, "", s.tools); err != nil {
		return nil, err
	}
	return root, nil
}

func (s *runSession) mountInto(obj *goja.Object, prefix string, tree *ToolTree) error {
	for _, name := range tree.Names() {
		node, _ := tree.Get(name)
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if node.IsLeaf() {
			tool := node.Tool
			if err := obj.Set(name, s.leafFunc(path, tool)); err != nil {
				return err
			}
			continue
		}
		child := s.vm.NewObject()
		if err := s.mountInto(child, path, node.Subtree); err != nil {
			return err
		}
		if err := obj.Set(name, child); err != nil {
			return err
		}
	}
	return nil
}

// leafFunc returns the goja callable bound to one tool, implementing the
// per-call procedure: allocate callId, validate, gate on approval, execute,
// record exactly one receipt.
func (s *runSession) leafFunc(path string, tool *Tool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var inputRaw json.RawMessage
		if len(call.Arguments) > 0 {
			exported := call.Arguments[0].Export()
			b, err := json.Marshal(exported)
			if err == nil {
				inputRaw = b
			}
		}
		if inputRaw == nil {
			inputRaw = json.RawMessage("null")
		}

		callID := s.newCallID()
		ts := s.now().Unix()
		preview := bound(string(inputRaw), previewLimit)

		if err := validateAgainstSchema(tool.ArgsSchema, inputRaw); err != nil {
			s.receipts = append(s.receipts, ToolCallReceipt{
				CallID: callID, ToolPath: path, Approval: tool.Approval, Decision: DecisionAuto,
				Status: ReceiptFailed, Timestamp: ts, InputPreview: preview,
				Error: (&ValidationError{ToolPath: path, Message: err.Error()}).Error(),
			})
			panic(s.vm.ToValue(err.Error()))
		}

		decision := DecisionAuto
		if tool.Approval == ApprovalRequired {
			req := ApprovalRequest{CallID: callID, ToolPath: path, Input: inputRaw, Preview: previewFor(tool, path, inputRaw)}
			d, err := s.requestApproval(req)
			if err != nil {
				s.receipts = append(s.receipts, ToolCallReceipt{
					CallID: callID, ToolPath: path, Approval: tool.Approval, Decision: DecisionDenied,
					Status: ReceiptFailed, Timestamp: ts, InputPreview: preview, Error: err.Error(),
				})
				panic(s.vm.ToValue(err.Error()))
			}
			decision = d
			if decision == DecisionDenied {
				s.receipts = append(s.receipts, ToolCallReceipt{
					CallID: callID, ToolPath: path, Approval: tool.Approval, Decision: DecisionDenied,
					Status: ReceiptDenied, Timestamp: ts, InputPreview: preview,
				})
				return goja.Undefined()
			}
		}

		out, err := tool.Run(s.ctx, inputRaw)
		if err != nil {
			execErr := &ToolExecutionError{ToolPath: path, Cause: err}
			s.receipts = append(s.receipts, ToolCallReceipt{
				CallID: callID, ToolPath: path, Approval: tool.Approval, Decision: decision,
				Status: ReceiptFailed, Timestamp: ts, InputPreview: preview, Error: execErr.Error(),
			})
			panic(s.vm.ToValue(execErr.Error()))
		}

		s.receipts = append(s.receipts, ToolCallReceipt{
			CallID: callID, ToolPath: path, Approval: tool.Approval, Decision: decision,
			Status: ReceiptSucceeded, Timestamp: ts, InputPreview: preview,
			OutputPreview: bound(string(out), previewLimit),
		})

		var exported interface{}
		if len(out) > 0 {
			_ = json.Unmarshal(out, &exported)
		}
		return s.vm.ToValue(exported)
	}
}

func (s *runSession) requestApproval(req ApprovalRequest) (Decision, error) {
	if s.approve == nil {
		return DecisionAuto, nil
	}
	return s.approve(s.ctx, req)
}

// bound truncates s to n runes, normalizing to NFKC first so multi-codepoint
// sequences don't split mid-grapheme in the common case.
func bound(s string, n int) string {
	s = norm.NFKC.String(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

var actionVerbs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)delete|remove|destroy|purge`),
	regexp.MustCompile(`(?i)create|add|insert|provision`),
	regexp.MustCompile(`(?i)update|set|patch|edit|rename`),
	regexp.MustCompile(`(?i)get|list|search|find|read`),
}

// previewFor infers an ApprovalPreview when the tool has no FormatApproval:
// an action verb from the path, a resource type from the penultimate
// segment, and candidate ids pulled from well-known input keys.
func previewFor(tool *Tool, path string, input json.RawMessage) ApprovalPreview {
	if tool.FormatApproval != nil {
		return tool.FormatApproval(input)
	}
	verb := "execute"
	for i, re := range actionVerbs {
		if re.MatchString(path) {
			verbs := []string{"delete", "create", "update", "read"}
			verb = verbs[i]
			break
		}
	}
	resource := path
	if segs := strings.Split(path, "."); len(segs) >= 2 {
		resource = segs[len(segs)-2]
	}
	id := ""
	var obj map[string]json.RawMessage
	if json.Unmarshal(input, &obj) == nil {
		for _, key := range []string{"id", "ids", "name", "slug", "key", "idOrName"} {
			if v, ok := obj[key]; ok {
				if s, ok := coerceScalar(v); ok {
					id = s
					break
				}
			}
		}
	}
	title := fmt.Sprintf("%s %s", verb, resource)
	if id != "" {
		title = fmt.Sprintf("%s %s %s", verb, resource, id)
	}
	return ApprovalPreview{Title: title, Details: path}
}

// validateAgainstSchema performs a shallow structural check: required
// properties present, and declared types matching for recognized JSON
// Schema "type" keywords. It is intentionally not a full JSON Schema
// validator — the renderer and this check share the same best-effort
// philosophy of "never block on a schema shape we don't understand".
func validateAgainstSchema(schema, input json.RawMessage) error {
	props, required, ok := objectProperties(schema)
	if !ok {
		return nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(input, &doc); err != nil {
		if len(required) > 0 {
			return fmt.Errorf("expected an object with fields %v", required)
		}
		return nil
	}
	for _, name := range required {
		if _, present := doc[name]; !present {
			return fmt.Errorf("missing required field %q", name)
		}
	}
	for name, fieldSchema := range props {
		val, present := doc[name]
		if !present {
			continue
		}
		if err := checkType(name, fieldSchema, val); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, schema json.RawMessage, val json.RawMessage) error {
	var node struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(schema, &node); err != nil || node.Type == "" {
		return nil
	}
	trimmed := strings.TrimSpace(string(val))
	switch node.Type {
	case "string":
		if !strings.HasPrefix(trimmed, `"`) {
			return fmt.Errorf("field %q: expected string", name)
		}
	case "number", "integer":
		if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
			return fmt.Errorf("field %q: expected number", name)
		}
	case "boolean":
		if trimmed != "true" && trimmed != "false" {
			return fmt.Errorf("field %q: expected boolean", name)
		}
	case "array":
		if !strings.HasPrefix(trimmed, "[") {
			return fmt.Errorf("field %q: expected array", name)
		}
	case "object":
		if !strings.HasPrefix(trimmed, "{") {
			return fmt.Errorf("field %q: expected object", name)
		}
	}
	return nil
}
