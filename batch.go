package taskweave

import (
	"context"
	"time"
)

// BatchState is the lifecycle state of an asynchronous batch job, as reported
// by a BatchProvider or BatchEmbeddingProvider. Providers map their own
// vendor-specific state strings onto this taxonomy.
type BatchState string

const (
	BatchPending   BatchState = "pending"
	BatchRunning   BatchState = "running"
	BatchSucceeded BatchState = "succeeded"
	BatchFailed    BatchState = "failed"
	BatchCancelled BatchState = "cancelled"
	BatchExpired   BatchState = "expired"
)

// BatchStats summarizes per-request outcomes within a batch job.
type BatchStats struct {
	TotalCount     int `json:"total_count"`
	SucceededCount int `json:"succeeded_count"`
	FailedCount    int `json:"failed_count"`
}

// BatchJob describes a submitted batch job and its current status.
type BatchJob struct {
	ID          string     `json:"id"`
	State       BatchState `json:"state"`
	DisplayName string     `json:"display_name,omitempty"`
	Stats       BatchStats `json:"stats"`
	CreateTime  time.Time  `json:"create_time,omitempty"`
	UpdateTime  time.Time  `json:"update_time,omitempty"`
}

// BatchProvider is implemented by Providers that support submitting many chat
// requests as a single asynchronous job, for workloads where per-call latency
// doesn't matter but cost and throughput do. Not every Provider implements
// this; callers type-assert for it.
type BatchProvider interface {
	// BatchChat submits multiple chat requests as one inline batch job.
	BatchChat(ctx context.Context, requests []ChatRequest) (BatchJob, error)
	// BatchStatus returns the current state of a previously submitted job.
	BatchStatus(ctx context.Context, jobID string) (BatchJob, error)
	// BatchChatResults retrieves responses for a completed job. Returns an
	// error if the job has not yet succeeded.
	BatchChatResults(ctx context.Context, jobID string) ([]ChatResponse, error)
	// BatchCancel requests cancellation of a running or pending job.
	BatchCancel(ctx context.Context, jobID string) error
}

// BatchEmbeddingProvider is the embedding analogue of BatchProvider: it
// submits groups of texts for batch embedding rather than one-shot calls.
type BatchEmbeddingProvider interface {
	// BatchEmbed submits groups of texts as one inline batch job. Each inner
	// slice is embedded as a single request.
	BatchEmbed(ctx context.Context, texts [][]string) (BatchJob, error)
	// BatchEmbedStatus returns the current state of a previously submitted job.
	BatchEmbedStatus(ctx context.Context, jobID string) (BatchJob, error)
	// BatchEmbedResults retrieves vectors for a completed job, one per
	// request group, in submission order. A nil entry marks a request that
	// produced no embedding.
	BatchEmbedResults(ctx context.Context, jobID string) ([][]float32, error)
}
