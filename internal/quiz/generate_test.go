package quiz

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestPlanDistributionBlocks(t *testing.T) {
	plan, shortfalls := planDistribution([]int64{7, 9}, 6, 3)
	if len(shortfalls) != 0 {
		t.Fatalf("unexpected shortfalls: %+v", shortfalls)
	}
	if len(plan) != 6 {
		t.Fatalf("expected 6 assignments, got %d", len(plan))
	}
	for i, p := range plan[:3] {
		if p.UserID != 7 || p.QuestionIndex != i {
			t.Fatalf("first block wrong at %d: %+v", i, p)
		}
	}
	for i, p := range plan[3:] {
		if p.UserID != 9 || p.QuestionIndex != 3+i {
			t.Fatalf("second block wrong at %d: %+v", i, p)
		}
	}
}

func TestPlanDistributionShortfall(t *testing.T) {
	// 2 users wanting 3 each, agent produced only 4
	plan, shortfalls := planDistribution([]int64{1, 2}, 4, 3)
	if len(plan) != 4 {
		t.Fatalf("expected 4 assignments, got %d", len(plan))
	}
	if len(shortfalls) != 1 {
		t.Fatalf("expected one shortfall, got %+v", shortfalls)
	}
	if shortfalls[0].UserID != 2 || shortfalls[0].Missing != 2 {
		t.Fatalf("unexpected shortfall: %+v", shortfalls[0])
	}
}

func TestPlanDistributionNoQuestions(t *testing.T) {
	plan, shortfalls := planDistribution([]int64{1}, 0, 2)
	if len(plan) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
	if len(shortfalls) != 1 || shortfalls[0].Missing != 2 {
		t.Fatalf("unexpected shortfalls: %+v", shortfalls)
	}
}

func TestValidateGeneratedQuestions(t *testing.T) {
	valid := []generatedItem{
		{Question: "Pick one", Type: "M", Choices: []string{"a", "b", "c", "d"}, Answer: "b"},
		{Question: "Explain", Type: "S", Answer: "because"},
	}
	if err := validateGeneratedQuestions(valid); err != nil {
		t.Fatalf("valid items rejected: %v", err)
	}

	cases := []struct {
		name  string
		items []generatedItem
	}{
		{"empty", nil},
		{"missing answer", []generatedItem{{Question: "q", Type: "S"}}},
		{"three choices", []generatedItem{{Question: "q", Type: "M", Choices: []string{"a", "b", "c"}, Answer: "a"}}},
		{"answer not a choice", []generatedItem{{Question: "q", Type: "M", Choices: []string{"a", "b", "c", "d"}, Answer: "e"}}},
		{"unknown type", []generatedItem{{Question: "q", Type: "X", Answer: "a"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateGeneratedQuestions(tc.items); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseQuizReplyFenced(t *testing.T) {
	reply := "Here you go:\n```json\n{\"questions\":[{\"question\":\"q\",\"type\":\"S\",\"choices\":null,\"answer\":\"a\",\"max_score\":25}]}\n```"
	quiz, err := parseQuizReply(reply)
	if err != nil {
		t.Fatalf("parseQuizReply: %v", err)
	}
	if len(quiz.Questions) != 1 || quiz.Questions[0].Answer != "a" {
		t.Fatalf("unexpected quiz: %+v", quiz)
	}
}

func TestParseQuizReplyBadJSON(t *testing.T) {
	_, err := parseQuizReply("no object here")
	if !errors.Is(err, ErrBadAgentResponse) {
		t.Fatalf("expected ErrBadAgentResponse, got %v", err)
	}
	var bad *BadResponseError
	if !errors.As(err, &bad) {
		t.Fatalf("expected *BadResponseError, got %T", err)
	}
	if bad.RawResponse != "no object here" {
		t.Fatalf("raw response not carried: %q", bad.RawResponse)
	}
}

func TestMaxScoreValue(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{`15`, 15},
		{`12.0`, 12},
		{`"20"`, 20},
		{`"not a number"`, 10},
		{`null`, 10},
		{``, 10},
		{`-3`, 10},
	}
	for _, tc := range cases {
		got := maxScoreValue(json.RawMessage(tc.raw))
		if got != tc.want {
			t.Fatalf("maxScoreValue(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestChoicesRoundTrip(t *testing.T) {
	choices := []string{"alpha", "beta", "gamma", "delta"}
	encoded, err := encodeChoices(choices)
	if err != nil {
		t.Fatalf("encodeChoices: %v", err)
	}
	if !encoded.Valid {
		t.Fatalf("expected valid null string")
	}
	decoded, err := decodeChoices(encoded)
	if err != nil {
		t.Fatalf("decodeChoices: %v", err)
	}
	if len(decoded) != 4 || decoded[0] != "alpha" || decoded[3] != "delta" {
		t.Fatalf("round trip mismatch: %v", decoded)
	}
}

func TestChoicesEmptyStoreAsNull(t *testing.T) {
	encoded, err := encodeChoices(nil)
	if err != nil {
		t.Fatalf("encodeChoices: %v", err)
	}
	if encoded.Valid {
		t.Fatalf("expected NULL for empty choices")
	}
	decoded, err := decodeChoices(sql.NullString{})
	if err != nil {
		t.Fatalf("decodeChoices: %v", err)
	}
	if decoded == nil || len(decoded) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", decoded)
	}
}

func TestBuildQuizPromptContents(t *testing.T) {
	group := &groupInfo{ID: 1, Name: "Onboarding", Memo: sql.NullString{String: "new hire training", Valid: true}}
	in := GenerateInput{
		GroupID:      1,
		AuthorID:     2,
		NumQuestions: 5,
		Language:     "English",
		Difficulty:   "medium",
		Description:  "Focus on security basics",
	}
	prompt := buildQuizPrompt(group, in, 3)

	for _, want := range []string{
		"Onboarding",
		"new hire training",
		"5 * 3",
		"medium",
		"Focus on security basics",
		"100 points",
		"max_score",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestValidateQuestionInput(t *testing.T) {
	if err := validateQuestionInput("M", "q", []string{"a", "b", "c", "d"}, "a"); err != nil {
		t.Fatalf("valid multiple choice rejected: %v", err)
	}
	if err := validateQuestionInput("L", "q", nil, "essay"); err != nil {
		t.Fatalf("valid long answer rejected: %v", err)
	}
	if err := validateQuestionInput("M", "q", []string{"a", "b"}, "a"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := validateQuestionInput("Z", "q", nil, "a"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
