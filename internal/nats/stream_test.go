package nats

import (
	"testing"

	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/service"
)

var _ service.EventLog = (*StreamManager)(nil)

func TestSubjects(t *testing.T) {
	const id = "0190a5c4-6f1e-7c3a-9b2d-3e4f5a6b7c8d"

	tests := []struct {
		got  string
		want string
	}{
		{EntrySubject(id, model.AuthorLead), "demo." + id + ".entry.lead"},
		{EntrySubject(id, model.AuthorAI), "demo." + id + ".entry.ai"},
		{EventSubject(id, model.EventTypeCycleComplete), "demo." + id + ".event.cycle_complete"},
		{EntryFilter(id), "demo." + id + ".entry.>"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got subject %q, want %q", tt.got, tt.want)
		}
	}
}

func TestIsConnected_NilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("expected nil client to report disconnected")
	}
}
