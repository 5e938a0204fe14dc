package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/medroute/internal/triage"
)

var _ triage.Provider = (*Client)(nil)

func TestToSDKParams(t *testing.T) {
	t.Parallel()

	c := New("key", "claude-default")
	p := c.toSDKParams(&triage.LLMRequest{
		System:      "route patients",
		Prompt:      "my knee hurts",
		MaxTokens:   256,
		Temperature: 0,
	})

	if p.Model != "claude-default" {
		t.Errorf("model = %q, want the client default", p.Model)
	}
	if p.MaxTokens != 256 {
		t.Errorf("max tokens = %d, want 256", p.MaxTokens)
	}
	if !p.Temperature.Valid() || p.Temperature.Value != 0 {
		t.Errorf("temperature = %v, want an explicit 0", p.Temperature)
	}
	if len(p.System) != 1 || p.System[0].Text != "route patients" {
		t.Errorf("system = %+v", p.System)
	}
	if len(p.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(p.Messages))
	}
	msg := p.Messages[0]
	if msg.Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %q, want user", msg.Role)
	}
	if len(msg.Content) != 1 || msg.Content[0].OfText == nil || msg.Content[0].OfText.Text != "my knee hurts" {
		t.Errorf("content = %+v", msg.Content)
	}
}

func TestToSDKParams_Overrides(t *testing.T) {
	t.Parallel()

	c := New("key", "claude-default")
	p := c.toSDKParams(&triage.LLMRequest{Model: "claude-other", Prompt: "x", Temperature: 0.4})

	if p.Model != "claude-other" {
		t.Errorf("model = %q, want the request model", p.Model)
	}
	if p.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d, want %d", p.MaxTokens, defaultMaxTokens)
	}
	if p.Temperature.Value != 0.4 {
		t.Errorf("temperature = %v, want 0.4", p.Temperature.Value)
	}
	if len(p.System) != 0 {
		t.Errorf("empty system prompt should be omitted, got %+v", p.System)
	}
}

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Model: "claude-x",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: `{"primary_clinic":`},
			{Type: "thinking"},
			{Type: "text", Text: ` {"name": "Neurology"}}`},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 100, OutputTokens: 50},
	}

	result := fromSDKResponse(msg)

	if result.Text != `{"primary_clinic": {"name": "Neurology"}}` {
		t.Errorf("text = %q", result.Text)
	}
	if result.Model != "claude-x" {
		t.Errorf("model = %q, want claude-x", result.Model)
	}
}

func TestFromSDKResponse_StopReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sdk      anthropic.StopReason
		expected triage.StopReason
	}{
		{"end_turn", anthropic.StopReasonEndTurn, triage.StopEnd},
		{"max_tokens", anthropic.StopReasonMaxTokens, triage.StopMaxTokens},
		{"unknown", anthropic.StopReason("refusal"), triage.StopReason("refusal")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := fromSDKResponse(&anthropic.Message{StopReason: tt.sdk})
			if result.StopReason != tt.expected {
				t.Errorf("stop reason = %q, want %q", result.StopReason, tt.expected)
			}
		})
	}
}

func TestFromSDKResponse_Usage(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if result.Usage.InputTokens != 1234 {
		t.Errorf("input tokens = %d, want 1234", result.Usage.InputTokens)
	}
	if result.Usage.OutputTokens != 567 {
		t.Errorf("output tokens = %d, want 567", result.Usage.OutputTokens)
	}
}

func TestSend_RoundTrip(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-served",
			"content": [{"type": "text", "text": "{\"primary_clinic\": {\"name\": \"Orthopedics\"}}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 42, "output_tokens": 7}
		}`)
	}))
	defer srv.Close()

	c := New("test-key", "claude-default", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := c.Send(context.Background(), &triage.LLMRequest{
		System:    "sys",
		Prompt:    "knee pain after running",
		MaxTokens: 128,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if !strings.Contains(resp.Text, "Orthopedics") {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Model != "claude-served" || resp.StopReason != triage.StopEnd {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.InputTokens != 42 || resp.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if gotBody["model"] != "claude-default" {
		t.Errorf("request model = %v", gotBody["model"])
	}
	if gotBody["max_tokens"] != float64(128) {
		t.Errorf("request max_tokens = %v", gotBody["max_tokens"])
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer srv.Close()

	c := New("test-key", "claude-default", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if _, err := c.Send(context.Background(), &triage.LLMRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}
