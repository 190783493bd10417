package taskweave

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStreamEventTypeValues(t *testing.T) {
	tests := []struct {
		got  StreamEventType
		want string
	}{
		{EventTextDelta, "text-delta"},
		{EventToolCallStart, "tool-call-start"},
		{EventToolCallResult, "tool-call-result"},
		{EventAgentStart, "agent-start"},
		{EventAgentFinish, "agent-finish"},
	}
	for _, tt := range tests {
		if string(tt.got) != tt.want {
			t.Errorf("event type = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestStreamEventMarshalTextDelta(t *testing.T) {
	ev := StreamEvent{Type: EventTextDelta, Content: "partial output"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"content":"partial output"`) {
		t.Errorf("json missing content: %s", data)
	}
	if strings.Contains(string(data), `"name"`) {
		t.Errorf("empty name should be omitted: %s", data)
	}
	if strings.Contains(string(data), `"args"`) {
		t.Errorf("empty args should be omitted: %s", data)
	}
}

func TestStreamEventMarshalToolCallStart(t *testing.T) {
	ev := StreamEvent{
		Type: EventToolCallStart,
		Name: "file.read",
		Args: json.RawMessage(`{"path":"a.txt"}`),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"name":"file.read"`) {
		t.Errorf("json missing name: %s", data)
	}
	if !strings.Contains(string(data), `"args":{"path":"a.txt"}`) {
		t.Errorf("json missing args: %s", data)
	}
}

func TestStreamEventUnmarshalRoundTrip(t *testing.T) {
	original := StreamEvent{Type: EventToolCallResult, Name: "web.fetch", Content: "200 OK"}
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	var decoded StreamEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != original {
		t.Errorf("round trip = %+v, want %+v", decoded, original)
	}
}
