package masterdata

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"eduquiz/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc masterdataService
}

type masterdataService interface {
	CreateGroup(ctx context.Context, in CreateGroupInput) (*Group, error)
	GetGroup(ctx context.Context, groupID int64) (*Group, error)
	ListGroups(ctx context.Context, authorID int64) ([]Group, error)
	UpdateGroup(ctx context.Context, in UpdateGroupInput) (*Group, error)
	DeleteGroup(ctx context.Context, groupID int64) error
	CreateUser(ctx context.Context, in CreateUserInput) (*User, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
	ListUsers(ctx context.Context, groupID int64) ([]User, error)
	DeleteUser(ctx context.Context, userID int64) error
	CreateResource(ctx context.Context, in CreateResourceInput) (*Resource, error)
	GetResource(ctx context.Context, resourceID int64) (*Resource, error)
	ListResources(ctx context.Context, groupID int64) ([]Resource, error)
	DeleteResource(ctx context.Context, resourceID int64) error
	ImportUsersExcel(ctx context.Context, groupID int64, r io.Reader) (*UserImportReport, error)
	ExportUsersExcel(ctx context.Context, groupID int64) ([]byte, error)
}

type groupRequest struct {
	AuthorID    *int64 `json:"author_id"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	Memo        string `json:"memo"`
	Description string `json:"description"`
}

type userRequest struct {
	GroupID  int64  `json:"group_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Language string `json:"language"`
}

type resourceRequest struct {
	GroupID       int64  `json:"group_id"`
	AuthorID      *int64 `json:"author_id"`
	Type          string `json:"type"`
	Content       string `json:"content"`
	FilePath      string `json:"file_path"`
	ConnectionKey string `json:"connection_key"`
}

func NewHandler(svc masterdataService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	group, err := h.svc.CreateGroup(r.Context(), CreateGroupInput{
		AuthorID:    req.AuthorID,
		Name:        req.Name,
		Language:    req.Language,
		Memo:        req.Memo,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, group)
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	group, err := h.svc.GetGroup(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, group)
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	authorID, _ := strconv.ParseInt(r.URL.Query().Get("author_id"), 10, 64)
	items, err := h.svc.ListGroups(r.Context(), authorID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	group, err := h.svc.UpdateGroup(r.Context(), UpdateGroupInput{
		ID:          id,
		Name:        req.Name,
		Language:    req.Language,
		Memo:        req.Memo,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, group)
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteGroup(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.svc.CreateUser(r.Context(), CreateUserInput{
		GroupID:  req.GroupID,
		Name:     req.Name,
		Email:    req.Email,
		Language: req.Language,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "group_id, name and a valid email are required")
		case errors.Is(err, ErrEmailTaken):
			apiresp.WriteError(w, r, http.StatusConflict, err.Error())
		case errors.Is(err, ErrGroupNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, user)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	groupID, _ := strconv.ParseInt(r.URL.Query().Get("group_id"), 10, 64)
	items, err := h.svc.ListUsers(r.Context(), groupID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteUser(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) ImportUsers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "group_id")
	if !ok {
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	report, err := h.svc.ImportUsersExcel(r.Context(), groupID, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}

func (h *Handler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "group_id")
	if !ok {
		return
	}

	data, err := h.svc.ExportUsersExcel(r.Context(), groupID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="users.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.CreateResource(r.Context(), CreateResourceInput{
		GroupID:       req.GroupID,
		AuthorID:      req.AuthorID,
		Type:          req.Type,
		Content:       req.Content,
		FilePath:      req.FilePath,
		ConnectionKey: req.ConnectionKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "type must be text, file or external with its matching payload field")
		case errors.Is(err, ErrGroupNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, res)
}

func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.svc.GetResource(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	groupID, _ := strconv.ParseInt(r.URL.Query().Get("group_id"), 10, 64)
	items, err := h.svc.ListResources(r.Context(), groupID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteResource(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
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
	case errors.Is(err, ErrGroupNotFound), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrResourceNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
