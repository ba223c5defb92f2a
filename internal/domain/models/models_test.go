package models

import (
	"testing"
	"time"
)

func TestContentBlock_Validate(t *testing.T) {
	tests := []struct {
		name    string
		block   ContentBlock
		wantErr bool
	}{
		{"text", ContentBlock{Type: ContentTypeText, Text: "hello"}, false},
		{"blank text", ContentBlock{Type: ContentTypeText, Text: "  "}, true},
		{"image", ContentBlock{Type: ContentTypeImageURL, Data: map[string]interface{}{"url": "https://x/y.png"}}, false},
		{"image without url", ContentBlock{Type: ContentTypeImageURL}, true},
		{"tool result", ContentBlock{Type: ContentTypeToolResult, Data: map[string]interface{}{"tool_name": "search"}}, false},
		{"unknown", ContentBlock{Type: "video"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.block.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessage_Text(t *testing.T) {
	msg := Message{Content: []ContentBlock{
		{Type: ContentTypeText, Text: "first"},
		{Type: ContentTypeImageURL, Data: map[string]interface{}{"url": "u"}},
		{Type: ContentTypeText, Text: "second"},
	}}

	if got := msg.Text(); got != "first\nsecond" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestRun_ApplyStatus(t *testing.T) {
	now := time.Now()
	reason := "model timeout"

	run := &Run{Status: RunStatusQueued}
	run.ApplyStatus(RunStatusInProgress, nil, now)
	if run.StartedAt == nil || run.IsTerminal() {
		t.Fatal("expected started, non-terminal run")
	}

	run.ApplyStatus(RunStatusFailed, &reason, now)
	if run.FailedAt == nil || run.LastError == nil || *run.LastError != reason {
		t.Errorf("expected failed run with last error, got %+v", run)
	}
	if !run.IsTerminal() {
		t.Error("expected failed run to be terminal")
	}
}

func TestThread_SyncMetadata(t *testing.T) {
	thread := &Thread{UserID: "u1", Title: "Trip", Status: ThreadStatusActive}
	thread.SyncMetadata()

	if thread.Metadata[MetaUserID] != "u1" || thread.Metadata[MetaTitle] != "Trip" || thread.Metadata[MetaStatus] != "active" {
		t.Errorf("metadata not mirrored: %v", thread.Metadata)
	}
}
