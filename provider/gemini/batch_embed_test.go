package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskweave/taskweave"
)

func newTestEmbedding(httpClient *http.Client) *GeminiEmbedding {
	return &GeminiEmbedding{apiKey: "test-key", model: "text-embedding-004", dims: 3, httpClient: httpClient}
}

func TestBatchEmbedBuildsCorrectPayload(t *testing.T) {
	var receivedPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&receivedPayload)
		json.NewEncoder(w).Encode(batchMetadataResponse("batches/embed-1", "BATCH_STATE_PENDING", nil))
	}))
	defer server.Close()

	origBaseURL := baseURL
	defer func() { baseURL = origBaseURL }()
	baseURL = server.URL

	e := newTestEmbedding(server.Client())
	job, err := e.BatchEmbed(context.Background(), [][]string{{"hello"}, {"world", "again"}})
	if err != nil {
		t.Fatalf("BatchEmbed returned error: %v", err)
	}
	if job.ID != "batches/embed-1" {
		t.Errorf("expected job ID 'batches/embed-1', got %q", job.ID)
	}
	if job.State != taskweave.BatchPending {
		t.Errorf("expected state pending, got %q", job.State)
	}

	batch, ok := receivedPayload["batch"].(map[string]any)
	if !ok {
		t.Fatal("expected 'batch' key in payload")
	}
	inputConfig := batch["input_config"].(map[string]any)
	reqs := inputConfig["requests"].(map[string]any)
	reqList := reqs["requests"].([]any)
	if len(reqList) != 2 {
		t.Fatalf("expected one batch request entry per text group, got %d", len(reqList))
	}
}

func TestBatchEmbedStatusParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(batchMetadataResponse("batches/embed-1", "BATCH_STATE_SUCCEEDED", nil))
	}))
	defer server.Close()

	origBaseURL := baseURL
	defer func() { baseURL = origBaseURL }()
	baseURL = server.URL

	e := newTestEmbedding(server.Client())
	job, err := e.BatchEmbedStatus(context.Background(), "batches/embed-1")
	if err != nil {
		t.Fatalf("BatchEmbedStatus returned error: %v", err)
	}
	if job.State != taskweave.BatchSucceeded {
		t.Errorf("expected state succeeded, got %q", job.State)
	}
}

func TestBatchEmbedResultsRejectsIncompleteJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(batchMetadataResponse("batches/embed-1", "BATCH_STATE_RUNNING", nil))
	}))
	defer server.Close()

	origBaseURL := baseURL
	defer func() { baseURL = origBaseURL }()
	baseURL = server.URL

	e := newTestEmbedding(server.Client())
	_, err := e.BatchEmbedResults(context.Background(), "batches/embed-1")
	if err == nil {
		t.Fatal("expected an error when the batch job has not succeeded")
	}
}

func TestBatchEmbedResultsReturnsVectors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode(batchMetadataResponse("batches/embed-1", "BATCH_STATE_SUCCEEDED", nil))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name": "batches/embed-1",
			"dest": map[string]any{
				"inlinedEmbedContentResponses": []map[string]any{
					{"embedding": map[string]any{"values": []float64{0.1, 0.2, 0.3}}},
					{},
				},
			},
		})
	}))
	defer server.Close()

	origBaseURL := baseURL
	defer func() { baseURL = origBaseURL }()
	baseURL = server.URL

	e := newTestEmbedding(server.Client())
	vectors, err := e.BatchEmbedResults(context.Background(), "batches/embed-1")
	if err != nil {
		t.Fatalf("BatchEmbedResults returned error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 result vectors, got %d", len(vectors))
	}
	if len(vectors[0]) != 3 || vectors[0][0] != float32(0.1) {
		t.Errorf("expected the first vector to be decoded, got %v", vectors[0])
	}
	if vectors[1] != nil {
		t.Errorf("expected a nil vector for a missing embedding, got %v", vectors[1])
	}
}

func TestWrapErrProducesErrLLM(t *testing.T) {
	e := newTestEmbedding(http.DefaultClient)
	err := e.wrapErr("boom")
	var llmErr *taskweave.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected wrapErr to return an *ErrLLM, got %T", err)
	}
	if llmErr.Provider != "gemini" || llmErr.Message != "boom" {
		t.Errorf("unexpected ErrLLM fields: %+v", llmErr)
	}
}
