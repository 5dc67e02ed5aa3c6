package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"eduquiz/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc quizService
}

type quizService interface {
	CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error)
	GetQuestion(ctx context.Context, questionID int64) (*Question, error)
	ListQuestions(ctx context.Context, resourceID int64) ([]Question, error)
	DeleteQuestion(ctx context.Context, questionID int64) error
	CreateQuestionSet(ctx context.Context, in CreateQuestionSetInput) (*QuestionSet, error)
	GetQuestionSet(ctx context.Context, setID int64) (*QuestionSet, error)
	ListQuestionSets(ctx context.Context, authorID int64) ([]QuestionSet, error)
	DeleteQuestionSet(ctx context.Context, setID int64) error
	ListQuizzesByGroup(ctx context.Context, groupID int64) ([]GroupQuiz, error)
	CreateAssignment(ctx context.Context, in CreateAssignmentInput) (*Assignment, error)
	GetAssignment(ctx context.Context, assignmentID int64) (*Assignment, error)
	ListAssignments(ctx context.Context, setID int64) ([]Assignment, error)
	DeleteAssignment(ctx context.Context, assignmentID int64) error
	QuizForUser(ctx context.Context, userID, setID int64) ([]QuizItem, error)
	QuizResultForUser(ctx context.Context, userID, setID int64) ([]QuizResultItem, error)
	GenerateFromAI(ctx context.Context, in GenerateInput) (*GenerateResult, error)
}

type questionRequest struct {
	ResourceID *int64   `json:"resource_id"`
	AuthorID   *int64   `json:"author_id"`
	Type       string   `json:"type"`
	Question   string   `json:"question"`
	Choices    []string `json:"choices"`
	Answer     string   `json:"answer"`
	MaxScore   int      `json:"max_score"`
}

type questionSetRequest struct {
	AuthorID     int64      `json:"author_id"`
	ResourceID   *int64     `json:"resource_id"`
	GroupID      *int64     `json:"group_id"`
	UserID       *int64     `json:"user_id"`
	NumQuestions int        `json:"num_questions"`
	Language     string     `json:"language"`
	Difficulty   string     `json:"difficulty"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

type assignmentRequest struct {
	QuestionSetID int64  `json:"question_set_id"`
	QuestionID    int64  `json:"question_id"`
	GroupID       *int64 `json:"group_id"`
	UserID        *int64 `json:"user_id"`
}

type generateRequest struct {
	GroupID      int64  `json:"group_id"`
	AuthorID     int64  `json:"author_id"`
	ResourceID   *int64 `json:"resource_id"`
	NumQuestions int    `json:"num_questions"`
	Language     string `json:"language"`
	Difficulty   string `json:"difficulty"`
	Title        string `json:"title"`
	Description  string `json:"description"`
}

func NewHandler(svc quizService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	question, err := h.svc.CreateQuestion(r.Context(), CreateQuestionInput{
		ResourceID: req.ResourceID,
		AuthorID:   req.AuthorID,
		Type:       req.Type,
		Question:   req.Question,
		Choices:    req.Choices,
		Answer:     req.Answer,
		MaxScore:   req.MaxScore,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, question)
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	question, err := h.svc.GetQuestion(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, question)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	resourceID, _ := strconv.ParseInt(r.URL.Query().Get("resource_id"), 10, 64)
	items, err := h.svc.ListQuestions(r.Context(), resourceID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) CreateQuestionSet(w http.ResponseWriter, r *http.Request) {
	var req questionSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	set, err := h.svc.CreateQuestionSet(r.Context(), CreateQuestionSetInput{
		AuthorID:     req.AuthorID,
		ResourceID:   req.ResourceID,
		GroupID:      req.GroupID,
		UserID:       req.UserID,
		NumQuestions: req.NumQuestions,
		Language:     req.Language,
		Difficulty:   req.Difficulty,
		Title:        req.Title,
		Description:  req.Description,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, set)
}

func (h *Handler) GetQuestionSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	set, err := h.svc.GetQuestionSet(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, set)
}

func (h *Handler) ListQuestionSets(w http.ResponseWriter, r *http.Request) {
	authorID, _ := strconv.ParseInt(r.URL.Query().Get("author_id"), 10, 64)
	items, err := h.svc.ListQuestionSets(r.Context(), authorID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) DeleteQuestionSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestionSet(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) ListQuizzesByGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "group_id")
	if !ok {
		return
	}

	quizzes, err := h.svc.ListQuizzesByGroup(r.Context(), groupID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, quizzes)
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.GenerateFromAI(r.Context(), GenerateInput{
		GroupID:      req.GroupID,
		AuthorID:     req.AuthorID,
		ResourceID:   req.ResourceID,
		NumQuestions: req.NumQuestions,
		Language:     req.Language,
		Difficulty:   req.Difficulty,
		Title:        req.Title,
		Description:  req.Description,
	})
	if err != nil {
		writeGenerateError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, result)
}

func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	assignment, err := h.svc.CreateAssignment(r.Context(), CreateAssignmentInput{
		QuestionSetID: req.QuestionSetID,
		QuestionID:    req.QuestionID,
		GroupID:       req.GroupID,
		UserID:        req.UserID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, assignment)
}

func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	assignment, err := h.svc.GetAssignment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, assignment)
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	setID, _ := strconv.ParseInt(r.URL.Query().Get("question_set_id"), 10, 64)
	items, err := h.svc.ListAssignments(r.Context(), setID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteAssignment(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) QuizForUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	setID, ok := pathID(w, r, "question_set_id")
	if !ok {
		return
	}

	items, err := h.svc.QuizForUser(r.Context(), userID, setID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) QuizResultForUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	setID, ok := pathID(w, r, "question_set_id")
	if !ok {
		return
	}

	items, err := h.svc.QuizResultForUser(r.Context(), userID, setID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrGroupNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrSetNotFound),
		errors.Is(err, ErrAssignmentNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	var bad *BadResponseError
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrGroupNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "Group not found")
	case errors.Is(err, ErrNoUsersInGroup):
		apiresp.WriteError(w, r, http.StatusBadRequest, "No users found in the group")
	case errors.As(err, &bad):
		apiresp.WriteErrorDetails(w, r, http.StatusBadRequest, bad.Reason, map[string]string{"raw_response": bad.RawResponse})
	case errors.Is(err, ErrAgentNotConfigured):
		apiresp.WriteError(w, r, http.StatusBadGateway, "quiz agent not configured")
	default:
		apiresp.WriteError(w, r, http.StatusBadGateway, "failed to get response from AI agent")
	}
}
