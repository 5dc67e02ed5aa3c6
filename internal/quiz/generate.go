package quiz

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
	ErrAgentNotConfigured = errors.New("quiz agent not configured")
	ErrBadAgentResponse   = errors.New("invalid quiz format from AI")
)

type GenerateInput struct {
	GroupID      int64  `json:"group_id"`
	AuthorID     int64  `json:"author_id"`
	ResourceID   *int64 `json:"resource_id,omitempty"`
	NumQuestions int    `json:"num_questions"`
	Language     string `json:"language"`
	Difficulty   string `json:"difficulty"`
	Title        string `json:"title"`
	Description  string `json:"description"`
}

// UserShortfall reports how many questions a user was left without when the
// agent returned fewer items than requested.
type UserShortfall struct {
	UserID  int64 `json:"user_id"`
	Missing int   `json:"missing"`
}

type GenerateResult struct {
	QuestionSetID      int64           `json:"question_set_id"`
	QuestionsCreated   int             `json:"questions_created"`
	AssignmentsCreated int             `json:"assignments_created"`
	TotalUsers         int             `json:"total_users"`
	QuestionsPerUser   int             `json:"questions_per_user"`
	Partial            bool            `json:"partial"`
	Shortfalls         []UserShortfall `json:"shortfalls,omitempty"`
	GeneratedQuestions []Question      `json:"generated_questions"`
}

// BadResponseError carries the raw agent reply so the API can return it as a
// diagnostic detail.
type BadResponseError struct {
	Reason      string
	RawResponse string
}

func (e *BadResponseError) Error() string { return e.Reason }

func (e *BadResponseError) Is(target error) bool { return target == ErrBadAgentResponse }

type generatedItem struct {
	Question string          `json:"question"`
	Type     string          `json:"type"`
	Choices  []string        `json:"choices"`
	Answer   string          `json:"answer"`
	MaxScore json.RawMessage `json:"max_score"`
}

type generatedQuiz struct {
	Questions []generatedItem `json:"questions"`
}

type groupInfo struct {
	ID   int64
	Name string
	Memo sql.NullString
}

// GenerateFromAI asks the quiz agent for enough questions to give every
// member of the group their own block, then persists the set, the questions
// and the per-user assignments in one transaction.
func (s *Service) GenerateFromAI(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	if in.GroupID <= 0 || in.AuthorID <= 0 || in.NumQuestions <= 0 {
		return nil, ErrInvalidInput
	}
	if s.agent == nil || s.quizAgentID == "" {
		return nil, ErrAgentNotConfigured
	}

	group, err := s.loadGroup(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	userIDs, err := s.groupUserIDs(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, ErrNoUsersInGroup
	}

	prompt := buildQuizPrompt(group, in, len(userIDs))
	reply, err := s.agent.CallAgent(ctx, s.quizAgentID, prompt)
	if err != nil {
		return nil, fmt.Errorf("call quiz agent: %w", err)
	}

	quiz, err := parseQuizReply(reply)
	if err != nil {
		return nil, err
	}
	if err := validateGeneratedQuestions(quiz.Questions); err != nil {
		return nil, &BadResponseError{Reason: err.Error(), RawResponse: reply}
	}

	return s.persistGeneratedQuiz(ctx, in, quiz.Questions, userIDs)
}

func (s *Service) loadGroup(ctx context.Context, groupID int64) (*groupInfo, error) {
	var g groupInfo
	err := s.db.QueryRowContext(ctx, `SELECT id, name, memo FROM groups WHERE id = $1`, groupID).
		Scan(&g.ID, &g.Name, &g.Memo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("load group: %w", err)
	}
	return &g, nil
}

func (s *Service) groupUserIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE group_id = $1 ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group users: %w", err)
	}
	return ids, nil
}

func buildQuizPrompt(group *groupInfo, in GenerateInput, userCount int) string {
	purpose := "general education"
	if group.Memo.Valid && strings.TrimSpace(group.Memo.String) != "" {
		purpose = group.Memo.String
	}
	scoring := fmt.Sprintf("Distribute scores by difficulty so that the %d questions per user total 100 points. Include each question's score in the 'max_score' field.", in.NumQuestions)
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = scoring
	} else {
		description = description + "\n\n" + scoring
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Please generate a quiz.\n\n")
	fmt.Fprintf(&b, "**Requested language:** %s (write the questions in this language)\n", in.Language)
	fmt.Fprintf(&b, "**Audience:** %s\n", group.Name)
	fmt.Fprintf(&b, "**Purpose:** %s\n", purpose)
	fmt.Fprintf(&b, "**Total questions:** %d * %d (each of the %d users in the group receives different questions)\n", in.NumQuestions, userCount, userCount)
	fmt.Fprintf(&b, "**Difficulty:** %s\n", in.Difficulty)
	fmt.Fprintf(&b, "**Additional requirements:** %s\n\n", description)
	b.WriteString(`**Instructions:**
1. Generate varied, original questions so every user gets a distinct set.
2. Even for the same topic, approach each question from a different angle.
3. Set each question's 'max_score' by difficulty so each user's total is 100 points.

**Response format (JSON):**
Return only a JSON object in exactly this shape, with no surrounding text.
{
  "questions": [
    {
      "question": "Content of the question in the requested language",
      "type": "M",
      "choices": ["Choice 1 text", "Choice 2 text", "Choice 3 text", "Choice 4 text"],
      "answer": "The full text of the correct answer from the choices list",
      "max_score": 10
    },
    {
      "question": "Content of the short answer question in the requested language",
      "type": "S",
      "choices": null,
      "answer": "The expected answer for the short answer question",
      "max_score": 10
    }
  ]
}

**Field notes:**
- type: one of "M" (multiple choice) or "S" (short answer).
- choices: for multiple choice, a list of exactly 4 strings (plain choice texts, not key/value pairs).
- answer: for multiple choice, the full text of the correct choice, never a letter or number.

Mix multiple-choice and short-answer questions for variety, and fit every question to the audience and purpose.`)
	return b.String()
}

func parseQuizReply(reply string) (*generatedQuiz, error) {
	raw, err := agent.ExtractJSON(reply)
	if err != nil {
		return nil, &BadResponseError{Reason: "no JSON object in agent reply", RawResponse: reply}
	}
	var quiz generatedQuiz
	if err := json.Unmarshal([]byte(raw), &quiz); err != nil {
		return nil, &BadResponseError{Reason: "malformed JSON in agent reply", RawResponse: reply}
	}
	if quiz.Questions == nil {
		return nil, &BadResponseError{Reason: "missing questions list in agent reply", RawResponse: reply}
	}
	return &quiz, nil
}

func validateGeneratedQuestions(items []generatedItem) error {
	if len(items) == 0 {
		return errors.New("agent returned no questions")
	}
	for i, item := range items {
		if strings.TrimSpace(item.Question) == "" || strings.TrimSpace(item.Answer) == "" {
			return fmt.Errorf("question %d: missing question or answer", i+1)
		}
		switch item.Type {
		case QuestionTypeMultipleChoice:
			if len(item.Choices) != 4 {
				return fmt.Errorf("question %d: expected 4 choices, got %d", i+1, len(item.Choices))
			}
			if !containsString(item.Choices, item.Answer) {
				return fmt.Errorf("question %d: answer not among choices", i+1)
			}
		case QuestionTypeShortAnswer, QuestionTypeLongAnswer:
			// null or empty choices are fine for open questions
		default:
			return fmt.Errorf("question %d: unknown type %q", i+1, item.Type)
		}
	}
	return nil
}

// maxScoreValue tolerates the agent returning max_score as a number, a
// numeric string, or nothing at all.
func maxScoreValue(raw json.RawMessage) int {
	const fallback = 10
	if len(raw) == 0 {
		return fallback
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

// blockAssignment pairs a user with an index into the generated question
// list.
type blockAssignment struct {
	UserID        int64
	QuestionIndex int
}

// planDistribution hands out contiguous blocks: user k takes generated
// indices [k*perUser, (k+1)*perUser), stopping early when the agent came up
// short.
func planDistribution(userIDs []int64, questionCount, perUser int) ([]blockAssignment, []UserShortfall) {
	var plan []blockAssignment
	var shortfalls []UserShortfall

	next := 0
	for _, userID := range userIDs {
		assigned := 0
		for ; assigned < perUser && next < questionCount; assigned++ {
			plan = append(plan, blockAssignment{UserID: userID, QuestionIndex: next})
			next++
		}
		if assigned < perUser {
			shortfalls = append(shortfalls, UserShortfall{UserID: userID, Missing: perUser - assigned})
		}
	}
	return plan, shortfalls
}

func (s *Service) persistGeneratedQuiz(ctx context.Context, in GenerateInput, items []generatedItem, userIDs []int64) (*GenerateResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin generate tx: %w", err)
	}
	defer tx.Rollback()

	var setID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO question_sets (
			author_id, resource_id, group_id, user_id,
			num_questions, language, difficulty, title, description, created_at
		) VALUES ($1, $2, $3, NULL, $4, $5, $6, $7, $8, now())
		RETURNING id
	`, in.AuthorID, in.ResourceID, in.GroupID,
		in.NumQuestions, in.Language, in.Difficulty, strings.TrimSpace(in.Title), in.Description).Scan(&setID)
	if err != nil {
		return nil, fmt.Errorf("insert generated question set: %w", err)
	}

	created := make([]Question, 0, len(items))
	for _, item := range items {
		choicesText, err := encodeChoices(item.Choices)
		if err != nil {
			return nil, err
		}
		maxScore := maxScoreValue(item.MaxScore)

		var q Question
		err = tx.QueryRowContext(ctx, `
			INSERT INTO questions (resource_id, author_id, type, question, choices, answer, max_score, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			RETURNING id, created_at
		`, in.ResourceID, in.AuthorID, item.Type, item.Question, choicesText, item.Answer, maxScore).Scan(&q.ID, &q.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert generated question: %w", err)
		}
		q.ResourceID = in.ResourceID
		q.AuthorID = &in.AuthorID
		q.Type = item.Type
		q.Question = item.Question
		q.Choices = item.Choices
		if q.Choices == nil {
			q.Choices = []string{}
		}
		q.Answer = item.Answer
		q.MaxScore = maxScore
		created = append(created, q)
	}

	plan, shortfalls := planDistribution(userIDs, len(created), in.NumQuestions)
	for _, p := range plan {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO question_assignments (
				question_set_id, question_id, group_id, user_id, status, created_at
			) VALUES ($1, $2, $3, $4, 'assigned', now())
		`, setID, created[p.QuestionIndex].ID, in.GroupID, p.UserID); err != nil {
			return nil, fmt.Errorf("insert generated assignment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit generate tx: %w", err)
	}

	for _, sf := range shortfalls {
		log.Printf("quiz generate: question_set=%d user=%d short %d questions", setID, sf.UserID, sf.Missing)
	}

	return &GenerateResult{
		QuestionSetID:      setID,
		QuestionsCreated:   len(created),
		AssignmentsCreated: len(plan),
		TotalUsers:         len(userIDs),
		QuestionsPerUser:   in.NumQuestions,
		Partial:            len(shortfalls) > 0,
		Shortfalls:         shortfalls,
		GeneratedQuestions: created,
	}, nil
}
