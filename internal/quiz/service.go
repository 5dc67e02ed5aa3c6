package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrGroupNotFound      = errors.New("group not found")
	ErrNoUsersInGroup     = errors.New("no users found in the group")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrSetNotFound        = errors.New("question set not found")
	ErrAssignmentNotFound = errors.New("question assignment not found")
)

const (
	QuestionTypeMultipleChoice = "M"
	QuestionTypeShortAnswer    = "S"
	QuestionTypeLongAnswer     = "L"

	StatusAssigned  = "assigned"
	StatusCompleted = "completed"
)

// AgentCaller is the slice of the agent client the quiz service needs.
type AgentCaller interface {
	CallAgent(ctx context.Context, agentID, prompt string) (string, error)
}

type Service struct {
	db          *sql.DB
	agent       AgentCaller
	quizAgentID string
}

type Question struct {
	ID         int64     `json:"id"`
	ResourceID *int64    `json:"resource_id,omitempty"`
	AuthorID   *int64    `json:"author_id,omitempty"`
	Type       string    `json:"type"`
	Question   string    `json:"question"`
	Choices    []string  `json:"choices"`
	Answer     string    `json:"answer"`
	MaxScore   int       `json:"max_score"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateQuestionInput struct {
	ResourceID *int64
	AuthorID   *int64
	Type       string
	Question   string
	Choices    []string
	Answer     string
	MaxScore   int
}

type QuestionSet struct {
	ID           int64      `json:"id"`
	AuthorID     int64      `json:"author_id"`
	ResourceID   *int64     `json:"resource_id,omitempty"`
	GroupID      *int64     `json:"group_id,omitempty"`
	UserID       *int64     `json:"user_id,omitempty"`
	NumQuestions int        `json:"num_questions"`
	Language     string     `json:"language"`
	Difficulty   string     `json:"difficulty"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type CreateQuestionSetInput struct {
	AuthorID     int64
	ResourceID   *int64
	GroupID      *int64
	UserID       *int64
	NumQuestions int
	Language     string
	Difficulty   string
	Title        string
	Description  string
	ExpiresAt    *time.Time
}

type Assignment struct {
	ID            int64     `json:"id"`
	QuestionSetID int64     `json:"question_set_id"`
	QuestionID    int64     `json:"question_id"`
	GroupID       *int64    `json:"group_id,omitempty"`
	UserID        *int64    `json:"user_id,omitempty"`
	UserAnswer    *string   `json:"user_answer,omitempty"`
	UserScore     *int      `json:"user_score,omitempty"`
	Feedback      *string   `json:"feedback,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type CreateAssignmentInput struct {
	QuestionSetID int64
	QuestionID    int64
	GroupID       *int64
	UserID        *int64
}

// GroupQuiz is one question set with its questions, as listed per group.
type GroupQuiz struct {
	QuestionSetID int64      `json:"question_set_id"`
	GroupID       *int64     `json:"group_id,omitempty"`
	NumQuestions  int        `json:"num_questions"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	CreatedAt     time.Time  `json:"created_at"`
	Questions     []Question `json:"questions"`
}

// QuizItem is one assigned question as shown to a user taking the quiz.
// The correct answer stays server-side.
type QuizItem struct {
	AssignmentID int64    `json:"assignment_id"`
	QuestionID   int64    `json:"question_id"`
	Type         string   `json:"type"`
	Question     string   `json:"question"`
	Choices      []string `json:"choices"`
	MaxScore     int      `json:"max_score"`
	Status       string   `json:"status"`
}

// QuizResultItem is one assigned question after scoring.
type QuizResultItem struct {
	AssignmentID int64    `json:"assignment_id"`
	QuestionID   int64    `json:"question_id"`
	Type         string   `json:"type"`
	Question     string   `json:"question"`
	Choices      []string `json:"choices"`
	Answer       string   `json:"answer"`
	UserAnswer   *string  `json:"user_answer,omitempty"`
	UserScore    *int     `json:"user_score,omitempty"`
	Feedback     *string  `json:"feedback,omitempty"`
	MaxScore     int      `json:"max_score"`
	Status       string   `json:"status"`
}

func NewService(db *sql.DB, agentClient AgentCaller, quizAgentID string) *Service {
	return &Service{db: db, agent: agentClient, quizAgentID: strings.TrimSpace(quizAgentID)}
}

func (s *Service) CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error) {
	if err := validateQuestionInput(in.Type, in.Question, in.Choices, in.Answer); err != nil {
		return nil, err
	}
	maxScore := in.MaxScore
	if maxScore <= 0 {
		maxScore = 10
	}

	choicesText, err := encodeChoices(in.Choices)
	if err != nil {
		return nil, err
	}

	var q Question
	var rawChoices sql.NullString
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO questions (resource_id, author_id, type, question, choices, answer, max_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, resource_id, author_id, type, question, choices, answer, max_score, created_at
	`, in.ResourceID, in.AuthorID, in.Type, strings.TrimSpace(in.Question), choicesText, in.Answer, maxScore).Scan(
		&q.ID, &q.ResourceID, &q.AuthorID, &q.Type, &q.Question, &rawChoices, &q.Answer, &q.MaxScore, &q.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	if q.Choices, err = decodeChoices(rawChoices); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Service) GetQuestion(ctx context.Context, questionID int64) (*Question, error) {
	var q Question
	var rawChoices sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, author_id, type, question, choices, answer, max_score, created_at
		FROM questions
		WHERE id = $1
	`, questionID).Scan(&q.ID, &q.ResourceID, &q.AuthorID, &q.Type, &q.Question, &rawChoices, &q.Answer, &q.MaxScore, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	if q.Choices, err = decodeChoices(rawChoices); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Service) ListQuestions(ctx context.Context, resourceID int64) ([]Question, error) {
	query := `
		SELECT id, resource_id, author_id, type, question, choices, answer, max_score, created_at
		FROM questions
	`
	args := []interface{}{}
	if resourceID > 0 {
		query += ` WHERE resource_id = $1`
		args = append(args, resourceID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		var q Question
		var rawChoices sql.NullString
		if err := rows.Scan(&q.ID, &q.ResourceID, &q.AuthorID, &q.Type, &q.Question, &rawChoices, &q.Answer, &q.MaxScore, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if q.Choices, err = decodeChoices(rawChoices); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, questionID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, questionID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete question rows affected: %w", err)
	}
	if n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func (s *Service) CreateQuestionSet(ctx context.Context, in CreateQuestionSetInput) (*QuestionSet, error) {
	if in.AuthorID <= 0 {
		return nil, ErrInvalidInput
	}

	var qs QuestionSet
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO question_sets (
			author_id, resource_id, group_id, user_id,
			num_questions, language, difficulty, title, description,
			expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING id, author_id, resource_id, group_id, user_id,
			num_questions, language, difficulty, title, description,
			expires_at, created_at
	`, in.AuthorID, in.ResourceID, in.GroupID, in.UserID,
		in.NumQuestions, in.Language, in.Difficulty, strings.TrimSpace(in.Title), in.Description,
		in.ExpiresAt).Scan(
		&qs.ID, &qs.AuthorID, &qs.ResourceID, &qs.GroupID, &qs.UserID,
		&qs.NumQuestions, &qs.Language, &qs.Difficulty, &qs.Title, &qs.Description,
		&qs.ExpiresAt, &qs.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert question set: %w", err)
	}
	return &qs, nil
}

func (s *Service) GetQuestionSet(ctx context.Context, setID int64) (*QuestionSet, error) {
	var qs QuestionSet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, author_id, resource_id, group_id, user_id,
			num_questions, language, difficulty, title, description,
			expires_at, created_at
		FROM question_sets
		WHERE id = $1
	`, setID).Scan(
		&qs.ID, &qs.AuthorID, &qs.ResourceID, &qs.GroupID, &qs.UserID,
		&qs.NumQuestions, &qs.Language, &qs.Difficulty, &qs.Title, &qs.Description,
		&qs.ExpiresAt, &qs.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSetNotFound
		}
		return nil, fmt.Errorf("load question set: %w", err)
	}
	return &qs, nil
}

func (s *Service) ListQuestionSets(ctx context.Context, authorID int64) ([]QuestionSet, error) {
	query := `
		SELECT id, author_id, resource_id, group_id, user_id,
			num_questions, language, difficulty, title, description,
			expires_at, created_at
		FROM question_sets
	`
	args := []interface{}{}
	if authorID > 0 {
		query += ` WHERE author_id = $1`
		args = append(args, authorID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query question sets: %w", err)
	}
	defer rows.Close()

	out := make([]QuestionSet, 0)
	for rows.Next() {
		var qs QuestionSet
		if err := rows.Scan(
			&qs.ID, &qs.AuthorID, &qs.ResourceID, &qs.GroupID, &qs.UserID,
			&qs.NumQuestions, &qs.Language, &qs.Difficulty, &qs.Title, &qs.Description,
			&qs.ExpiresAt, &qs.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan question set: %w", err)
		}
		out = append(out, qs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question sets: %w", err)
	}
	return out, nil
}

// DeleteQuestionSet removes the set; its assignments go with it via the
// ON DELETE CASCADE foreign key. Questions are left intact.
func (s *Service) DeleteQuestionSet(ctx context.Context, setID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM question_sets WHERE id = $1`, setID)
	if err != nil {
		return fmt.Errorf("delete question set: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete question set rows affected: %w", err)
	}
	if n == 0 {
		return ErrSetNotFound
	}
	return nil
}

func (s *Service) ListQuizzesByGroup(ctx context.Context, groupID int64) ([]GroupQuiz, error) {
	if groupID <= 0 {
		return nil, ErrInvalidInput
	}

	sets, err := s.listSetsForGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	out := make([]GroupQuiz, 0, len(sets))
	for _, qs := range sets {
		questions, err := s.listQuestionsForSet(ctx, qs.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, GroupQuiz{
			QuestionSetID: qs.ID,
			GroupID:       qs.GroupID,
			NumQuestions:  qs.NumQuestions,
			Title:         qs.Title,
			Description:   qs.Description,
			CreatedAt:     qs.CreatedAt,
			Questions:     questions,
		})
	}
	return out, nil
}

func (s *Service) listSetsForGroup(ctx context.Context, groupID int64) ([]QuestionSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author_id, resource_id, group_id, user_id,
			num_questions, language, difficulty, title, description,
			expires_at, created_at
		FROM question_sets
		WHERE group_id = $1
		ORDER BY id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query sets for group: %w", err)
	}
	defer rows.Close()

	out := make([]QuestionSet, 0)
	for rows.Next() {
		var qs QuestionSet
		if err := rows.Scan(
			&qs.ID, &qs.AuthorID, &qs.ResourceID, &qs.GroupID, &qs.UserID,
			&qs.NumQuestions, &qs.Language, &qs.Difficulty, &qs.Title, &qs.Description,
			&qs.ExpiresAt, &qs.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan set for group: %w", err)
		}
		out = append(out, qs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sets for group: %w", err)
	}
	return out, nil
}

func (s *Service) listQuestionsForSet(ctx context.Context, setID int64) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT q.id, q.resource_id, q.author_id, q.type, q.question, q.choices, q.answer, q.max_score, q.created_at
		FROM question_assignments qa
		JOIN questions q ON q.id = qa.question_id
		WHERE qa.question_set_id = $1
		ORDER BY q.id
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("query questions for set: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		var q Question
		var rawChoices sql.NullString
		if err := rows.Scan(&q.ID, &q.ResourceID, &q.AuthorID, &q.Type, &q.Question, &rawChoices, &q.Answer, &q.MaxScore, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question for set: %w", err)
		}
		if q.Choices, err = decodeChoices(rawChoices); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions for set: %w", err)
	}
	return out, nil
}

func (s *Service) CreateAssignment(ctx context.Context, in CreateAssignmentInput) (*Assignment, error) {
	if in.QuestionSetID <= 0 || in.QuestionID <= 0 {
		return nil, ErrInvalidInput
	}

	var a Assignment
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO question_assignments (
			question_set_id, question_id, group_id, user_id, status, created_at
		) VALUES ($1, $2, $3, $4, 'assigned', now())
		RETURNING id, question_set_id, question_id, group_id, user_id,
			user_answer, user_score, feedback, status, created_at
	`, in.QuestionSetID, in.QuestionID, in.GroupID, in.UserID).Scan(
		&a.ID, &a.QuestionSetID, &a.QuestionID, &a.GroupID, &a.UserID,
		&a.UserAnswer, &a.UserScore, &a.Feedback, &a.Status, &a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	return &a, nil
}

func (s *Service) GetAssignment(ctx context.Context, assignmentID int64) (*Assignment, error) {
	var a Assignment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, question_set_id, question_id, group_id, user_id,
			user_answer, user_score, feedback, status, created_at
		FROM question_assignments
		WHERE id = $1
	`, assignmentID).Scan(
		&a.ID, &a.QuestionSetID, &a.QuestionID, &a.GroupID, &a.UserID,
		&a.UserAnswer, &a.UserScore, &a.Feedback, &a.Status, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	return &a, nil
}

func (s *Service) ListAssignments(ctx context.Context, setID int64) ([]Assignment, error) {
	query := `
		SELECT id, question_set_id, question_id, group_id, user_id,
			user_answer, user_score, feedback, status, created_at
		FROM question_assignments
	`
	args := []interface{}{}
	if setID > 0 {
		query += ` WHERE question_set_id = $1`
		args = append(args, setID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	out := make([]Assignment, 0)
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(
			&a.ID, &a.QuestionSetID, &a.QuestionID, &a.GroupID, &a.UserID,
			&a.UserAnswer, &a.UserScore, &a.Feedback, &a.Status, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

func (s *Service) DeleteAssignment(ctx context.Context, assignmentID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM question_assignments WHERE id = $1`, assignmentID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete assignment rows affected: %w", err)
	}
	if n == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// QuizForUser lists a user's assigned questions in a set, without answers.
func (s *Service) QuizForUser(ctx context.Context, userID, setID int64) ([]QuizItem, error) {
	if userID <= 0 || setID <= 0 {
		return nil, ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT qa.id, q.id, q.type, q.question, q.choices, q.max_score, qa.status
		FROM question_assignments qa
		JOIN questions q ON q.id = qa.question_id
		WHERE qa.user_id = $1 AND qa.question_set_id = $2
		ORDER BY qa.id
	`, userID, setID)
	if err != nil {
		return nil, fmt.Errorf("query quiz items: %w", err)
	}
	defer rows.Close()

	out := make([]QuizItem, 0)
	for rows.Next() {
		var item QuizItem
		var rawChoices sql.NullString
		if err := rows.Scan(&item.AssignmentID, &item.QuestionID, &item.Type, &item.Question, &rawChoices, &item.MaxScore, &item.Status); err != nil {
			return nil, fmt.Errorf("scan quiz item: %w", err)
		}
		if item.Choices, err = decodeChoices(rawChoices); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz items: %w", err)
	}
	return out, nil
}

// QuizResultForUser lists a user's assignments in a set with answers, scores
// and feedback.
func (s *Service) QuizResultForUser(ctx context.Context, userID, setID int64) ([]QuizResultItem, error) {
	if userID <= 0 || setID <= 0 {
		return nil, ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT qa.id, q.id, q.type, q.question, q.choices, q.answer,
			qa.user_answer, qa.user_score, qa.feedback, q.max_score, qa.status
		FROM question_assignments qa
		JOIN questions q ON q.id = qa.question_id
		WHERE qa.user_id = $1 AND qa.question_set_id = $2
		ORDER BY qa.id
	`, userID, setID)
	if err != nil {
		return nil, fmt.Errorf("query quiz results: %w", err)
	}
	defer rows.Close()

	out := make([]QuizResultItem, 0)
	for rows.Next() {
		var item QuizResultItem
		var rawChoices sql.NullString
		if err := rows.Scan(
			&item.AssignmentID, &item.QuestionID, &item.Type, &item.Question, &rawChoices, &item.Answer,
			&item.UserAnswer, &item.UserScore, &item.Feedback, &item.MaxScore, &item.Status,
		); err != nil {
			return nil, fmt.Errorf("scan quiz result: %w", err)
		}
		if item.Choices, err = decodeChoices(rawChoices); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz results: %w", err)
	}
	return out, nil
}

// encodeChoices serializes a choices list to the JSON text stored in the
// questions table. Empty lists store as NULL.
func encodeChoices(choices []string) (sql.NullString, error) {
	if len(choices) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(choices)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode choices: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeChoices(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("decode choices: %w", err)
	}
	return out, nil
}

func validateQuestionInput(questionType, question string, choices []string, answer string) error {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
		return ErrInvalidInput
	}
	switch questionType {
	case QuestionTypeMultipleChoice:
		if len(choices) != 4 {
			return ErrInvalidInput
		}
		if !containsString(choices, answer) {
			return ErrInvalidInput
		}
	case QuestionTypeShortAnswer, QuestionTypeLongAnswer:
		// choices are optional for open questions
	default:
		return ErrInvalidInput
	}
	return nil
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
