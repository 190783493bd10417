// Package taskweave is a framework for AI agents that act by writing and
// running code rather than by calling individual tools directly.
//
// The model is given a catalog of dot-path tools (tools.web.fetch,
// tools.file.write, ...) and a single run_code tool. Its only mechanism
// for side effects is writing a short script that calls those tools; the
// script runs in an isolated, time-bounded sandbox (runner.go, backed by
// goja) so a single model turn can chain several tool calls without a
// network round trip per call.
//
// # Quick Start
//
//	app := taskweave.New(
//		taskweave.WithProvider(gemini.New(apiKey, model)),
//		taskweave.WithTools(taskweave.Merge(file.Tree(workspace), http.Tree())),
//	)
//	task, _ := app.Submit("summarize https://example.com and save it to notes.txt", "user-1", "cli")
//	events, unsubscribe, _ := app.Orchestrator().Subscribe(task.ID)
//	defer unsubscribe()
//	for ev := range events {
//		fmt.Println(ev.Type, ev.Message)
//	}
//
// # Core Types
//
//   - [Provider] — the LLM backend driving the agent loop (chat, tool-call
//     declaration, streaming)
//   - [ToolTree] / [Tool] — the dot-path catalog of capabilities offered to
//     generated code, each schema-validated and approval-gated
//   - [Runner] — evaluates one round of generated code against a ToolTree
//     inside a fresh, sandboxed goja.Runtime
//   - [ApprovalEngine] — the rendezvous between a gated call and whoever
//     must approve or deny it, plus any pre-registered auto-approval rules
//   - [Orchestrator] / [Task] — tracks every in-flight task's event log and
//     fans it out to subscribers
//   - [Reduce] — folds a Task's event stream into a renderable [ReducedState]
//     for any front end (terminal, web, chat)
//
// # Included Implementations
//
// Providers: provider/gemini (Google Gemini), provider/openaicompat
// (OpenAI-compatible APIs), provider/resolve (provider-agnostic config).
// Tools: tools/file (sandboxed filesystem), tools/http (readable-text
// fetch). An out-of-process CodeRunner sidecar lives under code/ and
// cmd/sandbox for hosts that want subprocess-level isolation instead of
// the in-process Runner.
//
// See cmd/server for a complete reference External Interface (HTTP + SSE).
package taskweave
