package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockFeedbackService struct {
	generateFromAI func(ctx context.Context, answers map[string]interface{}) (*Result, error)
}

func (m *mockFeedbackService) GenerateFromAI(ctx context.Context, answers map[string]interface{}) (*Result, error) {
	return m.generateFromAI(ctx, answers)
}

func TestSubmitSuccess(t *testing.T) {
	svc := &mockFeedbackService{
		generateFromAI: func(ctx context.Context, answers map[string]interface{}) (*Result, error) {
			if _, ok := answers["7"]; !ok {
				t.Fatalf("answers not forwarded: %+v", answers)
			}
			return &Result{
				Overall: "Well done",
				Updated: []UpdatedAssignment{{QuestionID: 7, UserScore: 90, Feedback: "Correct"}},
			}, nil
		},
	}
	h := NewHandler(svc)

	body := `{"7":{"question":"q","user_answer":"a"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/question_assignments/quiz/submit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var env struct {
		OK   bool            `json:"ok"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !env.OK || !strings.Contains(string(env.Data), "Well done") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestSubmitPartialFailureStillOK(t *testing.T) {
	svc := &mockFeedbackService{
		generateFromAI: func(ctx context.Context, answers map[string]interface{}) (*Result, error) {
			return &Result{
				Updated: []UpdatedAssignment{{QuestionID: 3, UserScore: 50, Feedback: "Partially right"}},
				Failed:  []FailedItem{{Key: "9", Reason: "no assignment for question id"}},
			}, nil
		},
	}
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/question_assignments/quiz/submit", strings.NewReader(`{"3":{}}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "no assignment for question id") {
		t.Fatalf("failed list not reported: %s", rec.Body.String())
	}
}

func TestSubmitAgentFailure(t *testing.T) {
	svc := &mockFeedbackService{
		generateFromAI: func(ctx context.Context, answers map[string]interface{}) (*Result, error) {
			return nil, errors.New("call feedback agent: poll timed out")
		},
	}
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/question_assignments/quiz/submit", strings.NewReader(`{"1":{}}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitBadAgentReply(t *testing.T) {
	svc := &mockFeedbackService{
		generateFromAI: func(ctx context.Context, answers map[string]interface{}) (*Result, error) {
			return nil, &BadResponseError{Reason: "malformed JSON in agent reply", RawResponse: "??"}
		},
	}
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/question_assignments/quiz/submit", strings.NewReader(`{"1":{}}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitEmptyBody(t *testing.T) {
	svc := &mockFeedbackService{
		generateFromAI: func(ctx context.Context, answers map[string]interface{}) (*Result, error) {
			return nil, ErrInvalidInput
		},
	}
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/question_assignments/quiz/submit", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
