package ai

import (
	"testing"
)

func TestParseReplyPlainJSON(t *testing.T) {
	reply, err := parseReply(`{"spoken_text":"Let's start with a triangle.","commands":[{"action":"add","id":"e1","kind":"line"}],"confidence":0.9,"topic":"geometry"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reply.SpokenText != "Let's start with a triangle." {
		t.Fatalf("spoken_text = %q", reply.SpokenText)
	}
	if len(reply.Commands) != 1 || reply.Commands[0].ID != "e1" {
		t.Fatalf("commands = %+v", reply.Commands)
	}
	if reply.Topic != "geometry" {
		t.Fatalf("topic = %q", reply.Topic)
	}
}

func TestParseReplyStripsCodeFence(t *testing.T) {
	raw := "Here you go:\n```json\n{\"spoken_text\":\"hi\",\"confidence\":0.5}\n```\n"
	reply, err := parseReply(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reply.SpokenText != "hi" {
		t.Fatalf("spoken_text = %q", reply.SpokenText)
	}
}

func TestParseReplyClampsConfidence(t *testing.T) {
	reply, err := parseReply(`{"spoken_text":"x","confidence":1.7}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reply.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamped to 1", reply.Confidence)
	}

	reply, err = parseReply(`{"spoken_text":"x","confidence":-0.3}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reply.Confidence != 0 {
		t.Fatalf("confidence = %v, want clamped to 0", reply.Confidence)
	}
}

func TestParseReplyRejectsProse(t *testing.T) {
	if _, err := parseReply("I cannot answer that."); err == nil {
		t.Fatal("expected error for non-JSON reply")
	}
}

func TestNewLLMTutorValidatesConfig(t *testing.T) {
	if _, err := NewLLMTutor(TutorConfig{Provider: ProviderOpenAI, Model: "gpt-4o-mini"}); err == nil {
		t.Fatal("expected error for missing OpenAI key")
	}
	if _, err := NewLLMTutor(TutorConfig{Provider: "unknown", Model: "m"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
