package taskweave

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberBuffer bounds how far a subscriber may lag behind emit before
// it is evicted; emit never blocks on a slow subscriber.
const subscriberBuffer = 256

// taskState is the atomic-backed lifecycle state behind Task.Status,
// grounded on the teacher's AgentHandle: state transitions write the new
// value then close done, giving every waiter a happens-before guarantee.
type taskState int32

const (
	stateRunning taskState = iota
	stateCompleted
	stateFailed
	stateCancelled
)

func (s taskState) status() TaskStatus {
	switch s {
	case stateCompleted:
		return TaskCompleted
	case stateFailed:
		return TaskFailed
	case stateCancelled:
		return TaskCancelled
	default:
		return TaskRunning
	}
}

// Task is one end-to-end execution initiated by a user prompt. Its status
// only ever moves forward: running -> {completed, failed, cancelled}.
type Task struct {
	ID          string
	Prompt      string
	RequesterID string
	ChannelID   string
	CreatedAt   int64

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32
	done  chan struct{}

	mu          sync.Mutex
	events      []TaskEvent
	subscribers map[int]chan TaskEvent
	nextSub     int
	resultText  string
	errorMsg    string
}

// Status reads the task's current lifecycle state.
func (t *Task) Status() TaskStatus {
	return taskState(t.state.Load()).status()
}

// Done returns a channel closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Context is the task's cancellation scope: the agent loop and runner
// select on Context().Done() at every suspension point.
func (t *Task) Context() context.Context { return t.ctx }

func (t *Task) transition(s taskState) bool {
	if !t.state.CompareAndSwap(int32(stateRunning), int32(s)) {
		return false
	}
	close(t.done)
	return true
}

// EventCount, ResultText and ErrorMessage back the serialized Task shape
// the HTTP layer returns.
func (t *Task) EventCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

func (t *Task) ResultText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resultText
}

func (t *Task) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorMsg
}

// Orchestrator owns the task registry: an explicit, constructed object
// rather than a package-level singleton, per the module's re-architecture
// of the source's global mutable state.
type Orchestrator struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	approvals *ApprovalEngine
	store     TaskStore
}

// TaskStore mirrors tasks and their event logs for audit. SaveTask is
// called once, when Create registers the task, so it sees the running
// status; later status changes and the result text are not re-saved.
// AppendEvent is called for every event Emit accepts, after subscribers
// are notified. Neither call returns an error, so a store failure never
// fails Emit; both run synchronously on the caller's goroutine.
type TaskStore interface {
	SaveTask(t *Task)
	AppendEvent(taskID string, e TaskEvent)
}

// OrchestratorOption configures an Orchestrator at construction time.
type OrchestratorOption func(*Orchestrator)

// WithTaskStore attaches a persistence backend (e.g. sqlite, pgx) that
// mirrors each task at creation and every event it logs, for audit.
func WithTaskStore(s TaskStore) OrchestratorOption {
	return func(o *Orchestrator) { o.store = s }
}

// NewOrchestrator constructs an empty orchestrator backed by approvals.
func NewOrchestrator(approvals *ApprovalEngine, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		tasks:     make(map[string]*Task),
		approvals: approvals,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Approvals exposes the shared ApprovalEngine so callers building a
// RequestApprovalFunc can register against it.
func (o *Orchestrator) Approvals() *ApprovalEngine { return o.approvals }

// Create registers a new task in the running state with an empty event log
// and no subscribers.
func (o *Orchestrator) Create(prompt, requesterID, channelID string) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		ID:          NewID(),
		Prompt:      prompt,
		RequesterID: requesterID,
		ChannelID:   channelID,
		CreatedAt:   time.Now().Unix(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: make(map[int]chan TaskEvent),
	}

	o.mu.Lock()
	o.tasks[t.ID] = t
	o.mu.Unlock()

	if o.store != nil {
		o.store.SaveTask(t)
	}
	return t
}

// Get returns the task by id, if any.
func (o *Orchestrator) Get(id string) (*Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	return t, ok
}

// List returns every task, optionally filtered to one requester.
func (o *Orchestrator) List(requesterID string) []*Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		if requesterID == "" || t.RequesterID == requesterID {
			out = append(out, t)
		}
	}
	return out
}

// Emit appends event to taskId's log and synchronously fans it out to
// every subscriber, dropping and evicting any subscriber whose buffer is
// full. After a terminal status, further Emit calls are no-ops.
func (o *Orchestrator) Emit(taskID string, event TaskEvent) {
	t, ok := o.Get(taskID)
	if !ok {
		return
	}

	t.mu.Lock()
	if t.Status().Terminal() {
		t.mu.Unlock()
		return
	}
	event.Ordinal = len(t.events)
	event.Timestamp = time.Now().Unix()
	t.events = append(t.events, event)

	switch event.Type {
	case EventAgentMessage:
		t.resultText = event.Message
	case EventError:
		t.errorMsg = event.Message
	}

	subs := make(map[int]chan TaskEvent, len(t.subscribers))
	for id, ch := range t.subscribers {
		subs[id] = ch
	}
	t.mu.Unlock()

	for id, ch := range subs {
		select {
		case ch <- event:
		default:
			o.evictSubscriber(t, id)
		}
	}

	switch event.Type {
	case EventCompleted:
		t.transition(stateCompleted)
	case EventError:
		t.transition(stateFailed)
	}

	if o.store != nil {
		o.store.AppendEvent(taskID, event)
	}
}

func (o *Orchestrator) evictSubscriber(t *Task, id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subscribers[id]; ok {
		delete(t.subscribers, id)
		close(ch)
	}
}

// Subscribe registers a follower for taskId and returns a channel that
// first replays every event already logged, then delivers new events as
// they arrive, with no gap and no duplicate. Returns nil, nil, false if
// taskId is unknown. The returned unsubscribe func must be called exactly once.
func (o *Orchestrator) Subscribe(taskID string) (<-chan TaskEvent, func(), bool) {
	t, ok := o.Get(taskID)
	if !ok {
		return nil, nil, false
	}

	ch := make(chan TaskEvent, subscriberBuffer)

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subscribers[id] = ch
	backlog := append([]TaskEvent(nil), t.events...)

	// Replay the backlog before releasing the lock: Emit takes this same
	// lock to append a new event and snapshot subscribers, so it cannot
	// interleave a live event ahead of (or during) this replay. A
	// subscriber too slow to drain its own backlog is evicted exactly as
	// Emit would evict it for a slow live send.
	for _, e := range backlog {
		select {
		case ch <- e:
		default:
			delete(t.subscribers, id)
			close(ch)
			t.mu.Unlock()
			return ch, func() {}, true
		}
	}
	t.mu.Unlock()

	unsubscribe := func() {
		o.evictSubscriber(t, id)
	}
	return ch, unsubscribe, true
}

// Cancel transitions a running task to cancelled. In-flight work observes
// this via Task.Context() at its next suspension point; any event it tries
// to emit afterward is dropped by Emit's terminal check.
func (o *Orchestrator) Cancel(id string) bool {
	t, ok := o.Get(id)
	if !ok {
		return false
	}
	if t.transition(stateCancelled) {
		t.cancel()
		return true
	}
	return false
}
