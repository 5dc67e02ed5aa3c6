package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"eduquiz/internal/agent"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrAgentNotConfigured = errors.New("feedback agent not configured")
	ErrBadAgentResponse   = errors.New("invalid feedback format from AI")
)

// AgentCaller is the slice of the agent client the feedback service needs.
type AgentCaller interface {
	CallAgent(ctx context.Context, agentID, prompt string) (string, error)
}

type Service struct {
	db              *sql.DB
	agent           AgentCaller
	feedbackAgentID string
}

// itemFeedback is one scored answer as returned by the agent.
type itemFeedback struct {
	UserScore  json.RawMessage `json:"user_score"`
	Feedback   string          `json:"feedback"`
	UserAnswer string          `json:"user_answer"`
}

// UpdatedAssignment reports one assignment row the batch completed.
type UpdatedAssignment struct {
	QuestionID int64  `json:"question_id"`
	UserScore  int    `json:"user_score"`
	Feedback   string `json:"feedback"`
}

// FailedItem reports one agent entry that could not be applied.
type FailedItem struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Result is the outcome of one feedback batch. Rows that succeeded are kept
// even when others failed.
type Result struct {
	Overall string              `json:"overall_feedback,omitempty"`
	Updated []UpdatedAssignment `json:"updated"`
	Failed  []FailedItem        `json:"failed,omitempty"`
}

// BadResponseError carries the raw agent reply for diagnostics.
type BadResponseError struct {
	Reason      string
	RawResponse string
}

func (e *BadResponseError) Error() string { return e.Reason }

func (e *BadResponseError) Is(target error) bool { return target == ErrBadAgentResponse }

func NewService(db *sql.DB, agentClient AgentCaller, feedbackAgentID string) *Service {
	return &Service{db: db, agent: agentClient, feedbackAgentID: strings.TrimSpace(feedbackAgentID)}
}

// GenerateFromAI sends a user's submitted answers to the feedback agent and
// applies the returned scores to the matching assignment rows. The key "0"
// carries the agent's overall comment and never maps to a row. Entries that
// fail to parse or match are reported in the result; the rest still commit.
func (s *Service) GenerateFromAI(ctx context.Context, answers map[string]interface{}) (*Result, error) {
	if len(answers) == 0 {
		return nil, ErrInvalidInput
	}
	if s.agent == nil || s.feedbackAgentID == "" {
		return nil, ErrAgentNotConfigured
	}

	prompt, err := buildFeedbackPrompt(answers)
	if err != nil {
		return nil, err
	}

	reply, err := s.agent.CallAgent(ctx, s.feedbackAgentID, prompt)
	if err != nil {
		return nil, fmt.Errorf("call feedback agent: %w", err)
	}

	parsed, err := parseFeedbackReply(reply)
	if err != nil {
		return nil, err
	}

	return s.applyFeedback(ctx, parsed)
}

func buildFeedbackPrompt(answers map[string]interface{}) (string, error) {
	payload, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}

	var b strings.Builder
	b.WriteString("Please score the following quiz answers and write feedback for each.\n\n")
	b.WriteString("**Submitted answers (JSON):**\n")
	b.Write(payload)
	b.WriteString("\n\n**Response format (JSON):**\n")
	b.WriteString(`Return only a JSON object keyed by question id. Use key "0" for an overall comment on the whole submission.
{
  "0": {"user_score": 0, "feedback": "Overall comment on the submission", "user_answer": ""},
  "<question_id>": {"user_score": 8, "feedback": "Feedback for this answer", "user_answer": "The user's answer"}
}`)
	return b.String(), nil
}

func parseFeedbackReply(reply string) (map[string]itemFeedback, error) {
	raw, err := agent.ExtractJSON(reply)
	if err != nil {
		return nil, &BadResponseError{Reason: "no JSON object in agent reply", RawResponse: reply}
	}
	var parsed map[string]itemFeedback
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &BadResponseError{Reason: "malformed JSON in agent reply", RawResponse: reply}
	}
	if len(parsed) == 0 {
		return nil, &BadResponseError{Reason: "empty feedback in agent reply", RawResponse: reply}
	}
	return parsed, nil
}

func (s *Service) applyFeedback(ctx context.Context, parsed map[string]itemFeedback) (*Result, error) {
	result := &Result{Updated: make([]UpdatedAssignment, 0, len(parsed))}

	for key, item := range parsed {
		if key == "0" {
			result.Overall = item.Feedback
			continue
		}

		questionID, err := strconv.ParseInt(key, 10, 64)
		if err != nil || questionID <= 0 {
			result.Failed = append(result.Failed, FailedItem{Key: key, Reason: "key is not a question id"})
			continue
		}

		score, ok := scoreValue(item.UserScore)
		if !ok {
			result.Failed = append(result.Failed, FailedItem{Key: key, Reason: "user_score is not a number"})
			continue
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE question_assignments
			SET user_answer = $1, user_score = $2, feedback = $3, status = 'completed'
			WHERE question_id = $4
		`, item.UserAnswer, score, item.Feedback, questionID)
		if err != nil {
			log.Printf("feedback: update question %d: %v", questionID, err)
			result.Failed = append(result.Failed, FailedItem{Key: key, Reason: "database update failed"})
			continue
		}
		n, err := res.RowsAffected()
		if err != nil {
			result.Failed = append(result.Failed, FailedItem{Key: key, Reason: "database update failed"})
			continue
		}
		if n == 0 {
			result.Failed = append(result.Failed, FailedItem{Key: key, Reason: "no assignment for question id"})
			continue
		}

		result.Updated = append(result.Updated, UpdatedAssignment{
			QuestionID: questionID,
			UserScore:  score,
			Feedback:   item.Feedback,
		})
	}

	return result, nil
}

// scoreValue tolerates the agent returning user_score as a number or a
// numeric string. A JSON null is a missing score, not a zero.
func scoreValue(raw json.RawMessage) (int, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v, true
		}
	}
	return 0, false
}
