package core

import (
	"encoding/json"
	"testing"
)

func TestContent_JSONPreservesPartOrderAndKinds(t *testing.T) {
	original := []Content{
		NewUserContent("I have Fabry disease"),
		NewFunctionCallContent(
			FunctionCall{ID: "c1", Name: "research_agent", Arguments: `{"input":"Fabry disease"}`},
			FunctionCall{ID: "c2", Name: "pseudo_phd_agent", Arguments: `{"input":"synthesise"}`},
		),
		NewFunctionResponseContent(
			FunctionResponse{ID: "c1", Name: "research_agent", Response: "3 papers"},
			FunctionResponse{ID: "c2", Name: "pseudo_phd_agent", Error: "boom"},
		),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded []Content
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(decoded) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(decoded))
	}
	if decoded[0].Text() != "I have Fabry disease" || decoded[0].Role != RoleUser {
		t.Fatalf("unexpected user content: %+v", decoded[0])
	}
	calls := decoded[1].FunctionCalls()
	if len(calls) != 2 || calls[0].ID != "c1" || calls[1].Name != "pseudo_phd_agent" {
		t.Fatalf("function calls not preserved: %+v", calls)
	}
	responses := decoded[2].FunctionResponses()
	if text, ok := responses[0].Text(); !ok || text != "3 papers" {
		t.Fatalf("expected textual response, got %+v", responses[0])
	}
	if _, ok := responses[1].Text(); ok {
		t.Fatal("error response must not count as text")
	}
}

func TestContent_UnmarshalRejectsUnknownPart(t *testing.T) {
	var c Content
	if err := json.Unmarshal([]byte(`{"role":"user","parts":[{"type":"image"}]}`), &c); err == nil {
		t.Fatal("expected error for unknown part type")
	}
}

func TestFunctionResponse_String(t *testing.T) {
	if got := (FunctionResponse{Response: map[string]any{"a": 1}}).String(); got != `{"a":1}` {
		t.Fatalf("unexpected rendering %q", got)
	}
	if got := (FunctionResponse{Error: "bad"}).String(); got != "error: bad" {
		t.Fatalf("unexpected error rendering %q", got)
	}
}

func TestCloneContents_Isolation(t *testing.T) {
	in := []Content{NewAssistantContent("hello")}
	out := CloneContents(in)
	out[0].Parts[0] = TextPart{Text: "changed"}
	if in[0].Text() != "hello" {
		t.Fatal("clone must not share part slices")
	}
}
