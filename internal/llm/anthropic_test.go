package llm

import "testing"

func TestSplitSystem(t *testing.T) {
	system, msgs := splitSystem([]Message{
		{Role: "system", Content: "you are a cat"},
		{Role: "user", Content: "hi"},
		{Role: "user", Content: "hello??"},
		{Role: "assistant", Content: "meow"},
		{Role: "system", Content: "stay in character"},
	})

	if system != "you are a cat\n\nstay in character" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 after merging", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi\nhello??" {
		t.Errorf("merged user turn = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("second turn role = %q", msgs[1].Role)
	}
}

func TestParseAnthropicResponse(t *testing.T) {
	resp, err := parseAnthropicResponse([]byte(`{
		"content":[{"type":"text","text":"meow"}],
		"stop_reason":"end_turn",
		"usage":{"input_tokens":10,"output_tokens":3}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "meow" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish = %q", resp.FinishReason)
	}
	if resp.Usage["total_tokens"] != 13 {
		t.Errorf("total tokens = %d", resp.Usage["total_tokens"])
	}
}

func TestParseAnthropicResponseError(t *testing.T) {
	_, err := parseAnthropicResponse([]byte(`{"error":{"type":"overloaded_error","message":"try later"}}`))
	if err == nil {
		t.Fatal("expected error")
	}
}
