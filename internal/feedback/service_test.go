package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestBuildFeedbackPromptCarriesAnswers(t *testing.T) {
	answers := map[string]interface{}{
		"12": map[string]interface{}{"question": "What is 2+2?", "user_answer": "4"},
	}
	prompt, err := buildFeedbackPrompt(answers)
	if err != nil {
		t.Fatalf("buildFeedbackPrompt: %v", err)
	}
	for _, want := range []string{"What is 2+2?", `"12"`, "user_score", `"0"`} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestParseFeedbackReply(t *testing.T) {
	reply := "Scores below.\n```json\n{\"0\":{\"user_score\":0,\"feedback\":\"Good effort\",\"user_answer\":\"\"},\"5\":{\"user_score\":80,\"feedback\":\"Correct\",\"user_answer\":\"4\"}}\n```"
	parsed, err := parseFeedbackReply(reply)
	if err != nil {
		t.Fatalf("parseFeedbackReply: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(parsed))
	}
	if parsed["0"].Feedback != "Good effort" {
		t.Fatalf("overall entry wrong: %+v", parsed["0"])
	}
	if score, ok := scoreValue(parsed["5"].UserScore); !ok || score != 80 {
		t.Fatalf("score = %d, ok = %v", score, ok)
	}
}

func TestParseFeedbackReplyMalformed(t *testing.T) {
	_, err := parseFeedbackReply("the agent rambled with no JSON")
	if !errors.Is(err, ErrBadAgentResponse) {
		t.Fatalf("expected ErrBadAgentResponse, got %v", err)
	}
	var bad *BadResponseError
	if !errors.As(err, &bad) || bad.RawResponse == "" {
		t.Fatalf("raw response not carried: %v", err)
	}
}

func TestApplyFeedbackNullScoreFails(t *testing.T) {
	svc := NewService(nil, nil, "agent-1")

	result, err := svc.applyFeedback(context.Background(), map[string]itemFeedback{
		"0": {Feedback: "Overall comment"},
		"7": {UserScore: json.RawMessage(`null`), Feedback: "No score given", UserAnswer: "x"},
	})
	if err != nil {
		t.Fatalf("applyFeedback: %v", err)
	}
	if result.Overall != "Overall comment" {
		t.Fatalf("overall = %q", result.Overall)
	}
	if len(result.Updated) != 0 {
		t.Fatalf("null score must not complete a row: %+v", result.Updated)
	}
	if len(result.Failed) != 1 || result.Failed[0].Key != "7" {
		t.Fatalf("unexpected failed list: %+v", result.Failed)
	}
	if result.Failed[0].Reason != "user_score is not a number" {
		t.Fatalf("unexpected reason: %q", result.Failed[0].Reason)
	}
}

func TestScoreValue(t *testing.T) {
	cases := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{`85`, 85, true},
		{`9.0`, 9, true},
		{`"70"`, 70, true},
		{`"n/a"`, 0, false},
		{`null`, 0, false},
		{``, 0, false},
	}
	for _, tc := range cases {
		got, ok := scoreValue(json.RawMessage(tc.raw))
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("scoreValue(%q) = (%d, %v), want (%d, %v)", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}
