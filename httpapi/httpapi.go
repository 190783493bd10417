// Package httpapi is the External Interface shim: HTTP/SSE handlers over
// an *taskweave.App's Orchestrator and ApprovalEngine, in the shape of
// cmd/sandbox/handler.go's JSON request/response helpers.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	taskweave "github.com/taskweave/taskweave"
)

const maxRequestBodyBytes = 1 << 20 // 1MB

// Server holds the App the handlers are mounted against.
type Server struct {
	app *taskweave.App
}

// NewServer wraps app with the HTTP surface described in the endpoint table:
// POST /tasks, GET /tasks, GET /tasks/{id}, GET /tasks/{id}/events (SSE),
// POST /tasks/{id}/cancel, POST /approvals/{callId}, POST /tasks/{id}/approval-rules.
func NewServer(app *taskweave.App) *Server {
	return &Server{app: app}
}

// Handler builds the mux routing every endpoint to its handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskSubroute)
	mux.HandleFunc("/approvals/", s.handleApproval)
	return mux
}

// --- request/response shapes ---

type createTaskRequest struct {
	Prompt      string `json:"prompt"`
	RequesterID string `json:"requesterId"`
	ChannelID   string `json:"channelId,omitempty"`
}

type taskRef struct {
	TaskID string               `json:"taskId"`
	Status taskweave.TaskStatus `json:"status"`
}

type pendingApprovalRef struct {
	CallID   string `json:"callId"`
	ToolPath string `json:"toolPath"`
}

// serializedTask is the GET /tasks/{id} response shape.
type serializedTask struct {
	ID               string               `json:"id"`
	Prompt           string               `json:"prompt"`
	RequesterID      string               `json:"requesterId"`
	ChannelID        string               `json:"channelId,omitempty"`
	CreatedAt        int64                `json:"createdAt"`
	Status           taskweave.TaskStatus `json:"status"`
	ResultText       string               `json:"resultText,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
	EventCount       int                  `json:"eventCount"`
	PendingApprovals []pendingApprovalRef `json:"pendingApprovals"`
}

func serializeTask(app *taskweave.App, t *taskweave.Task) serializedTask {
	pending := app.Approvals().ListPending(t.ID)
	refs := make([]pendingApprovalRef, 0, len(pending))
	for _, p := range pending {
		refs = append(refs, pendingApprovalRef{CallID: p.CallID, ToolPath: p.ToolPath})
	}
	return serializedTask{
		ID:               t.ID,
		Prompt:           t.Prompt,
		RequesterID:      t.RequesterID,
		ChannelID:        t.ChannelID,
		CreatedAt:        t.CreatedAt,
		Status:           t.Status(),
		ResultText:       t.ResultText(),
		ErrorMessage:     t.ErrorMessage(),
		EventCount:       t.EventCount(),
		PendingApprovals: refs,
	}
}

// --- POST /tasks, GET /tasks ---

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTask(w, r)
	case http.MethodGet:
		s.listTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req createTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" || strings.TrimSpace(req.RequesterID) == "" {
		writeError(w, http.StatusBadRequest, "prompt and requesterId are required")
		return
	}

	task, err := s.app.Submit(req.Prompt, req.RequesterID, req.ChannelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskRef{TaskID: task.ID, Status: task.Status()})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	requesterID := r.URL.Query().Get("requesterId")
	tasks := s.app.Orchestrator().List(requesterID)
	out := make([]serializedTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, serializeTask(s.app, t))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- GET /tasks/{id}, GET /tasks/{id}/events, POST /tasks/{id}/cancel, POST /tasks/{id}/approval-rules ---

func (s *Server) handleTaskSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	switch {
	case strings.HasSuffix(rest, "/events"):
		s.taskEvents(w, r, strings.TrimSuffix(rest, "/events"))
	case strings.HasSuffix(rest, "/cancel"):
		s.cancelTask(w, r, strings.TrimSuffix(rest, "/cancel"))
	case strings.HasSuffix(rest, "/approval-rules"):
		s.addApprovalRule(w, r, strings.TrimSuffix(rest, "/approval-rules"))
	default:
		s.getTask(w, r, rest)
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	task, ok := s.app.Orchestrator().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, serializeTask(s.app, task))
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	task, ok := s.app.Orchestrator().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	if !s.app.Orchestrator().Cancel(id) {
		writeError(w, http.StatusBadRequest, "task is not running")
		return
	}
	writeJSON(w, http.StatusOK, taskRef{TaskID: id, Status: task.Status()})
}

type approvalRuleRequest struct {
	ToolPath string                 `json:"toolPath"`
	Field    string                 `json:"field"`
	Operator taskweave.RuleOperator `json:"operator"`
	Value    string                 `json:"value"`
	Decision taskweave.Decision     `json:"decision"`
}

type approvalRuleResponse struct {
	RuleID   string `json:"ruleId"`
	Resolved bool   `json:"resolved"`
}

func (s *Server) addApprovalRule(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.app.Orchestrator().Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req approvalRuleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	rule := taskweave.ApprovalRule{
		ID:       taskweave.NewID(),
		ToolPath: req.ToolPath,
		Field:    req.Field,
		Operator: req.Operator,
		Value:    req.Value,
		Decision: req.Decision,
	}
	s.app.Approvals().AddRule(id, rule)
	writeJSON(w, http.StatusOK, approvalRuleResponse{RuleID: rule.ID, Resolved: true})
}

// --- GET /tasks/{id}/events (SSE) ---

func (s *Server) taskEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.app.Orchestrator().Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}

	events, unsubscribe, ok := s.app.Orchestrator().Subscribe(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	defer unsubscribe()

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			if canFlush {
				flusher.Flush()
			}
			if ev.Type.Terminal() {
				return
			}
		}
	}
}

// --- POST /approvals/{callId} ---

type resolveApprovalRequest struct {
	Decision taskweave.Decision `json:"decision"`
}

type resolveApprovalResponse struct {
	CallID   string             `json:"callId"`
	Decision taskweave.Decision `json:"decision"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	callID := strings.TrimPrefix(r.URL.Path, "/approvals/")
	if callID == "" {
		writeError(w, http.StatusNotFound, "unknown approval")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req resolveApprovalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Decision != taskweave.DecisionApproved && req.Decision != taskweave.DecisionDenied {
		writeError(w, http.StatusBadRequest, `decision must be "approved" or "denied"`)
		return
	}

	if err := s.app.Approvals().Resolve(callID, req.Decision); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resolveApprovalResponse{CallID: callID, Decision: req.Decision})
}

// --- JSON helpers, matching cmd/sandbox/handler.go's convention ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
