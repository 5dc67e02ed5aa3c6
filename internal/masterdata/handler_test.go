package masterdata

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type mockMasterdataService struct {
	createGroup      func(ctx context.Context, in CreateGroupInput) (*Group, error)
	getGroup         func(ctx context.Context, groupID int64) (*Group, error)
	listGroups       func(ctx context.Context, authorID int64) ([]Group, error)
	updateGroup      func(ctx context.Context, in UpdateGroupInput) (*Group, error)
	deleteGroup      func(ctx context.Context, groupID int64) error
	createUser       func(ctx context.Context, in CreateUserInput) (*User, error)
	getUser          func(ctx context.Context, userID int64) (*User, error)
	listUsers        func(ctx context.Context, groupID int64) ([]User, error)
	deleteUser       func(ctx context.Context, userID int64) error
	createResource   func(ctx context.Context, in CreateResourceInput) (*Resource, error)
	getResource      func(ctx context.Context, resourceID int64) (*Resource, error)
	listResources    func(ctx context.Context, groupID int64) ([]Resource, error)
	deleteResource   func(ctx context.Context, resourceID int64) error
	importUsersExcel func(ctx context.Context, groupID int64, r io.Reader) (*UserImportReport, error)
	exportUsersExcel func(ctx context.Context, groupID int64) ([]byte, error)
}

func (m *mockMasterdataService) CreateGroup(ctx context.Context, in CreateGroupInput) (*Group, error) {
	return m.createGroup(ctx, in)
}

func (m *mockMasterdataService) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	return m.getGroup(ctx, groupID)
}

func (m *mockMasterdataService) ListGroups(ctx context.Context, authorID int64) ([]Group, error) {
	return m.listGroups(ctx, authorID)
}

func (m *mockMasterdataService) UpdateGroup(ctx context.Context, in UpdateGroupInput) (*Group, error) {
	return m.updateGroup(ctx, in)
}

func (m *mockMasterdataService) DeleteGroup(ctx context.Context, groupID int64) error {
	return m.deleteGroup(ctx, groupID)
}

func (m *mockMasterdataService) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	return m.createUser(ctx, in)
}

func (m *mockMasterdataService) GetUser(ctx context.Context, userID int64) (*User, error) {
	return m.getUser(ctx, userID)
}

func (m *mockMasterdataService) ListUsers(ctx context.Context, groupID int64) ([]User, error) {
	return m.listUsers(ctx, groupID)
}

func (m *mockMasterdataService) DeleteUser(ctx context.Context, userID int64) error {
	return m.deleteUser(ctx, userID)
}

func (m *mockMasterdataService) CreateResource(ctx context.Context, in CreateResourceInput) (*Resource, error) {
	return m.createResource(ctx, in)
}

func (m *mockMasterdataService) GetResource(ctx context.Context, resourceID int64) (*Resource, error) {
	return m.getResource(ctx, resourceID)
}

func (m *mockMasterdataService) ListResources(ctx context.Context, groupID int64) ([]Resource, error) {
	return m.listResources(ctx, groupID)
}

func (m *mockMasterdataService) DeleteResource(ctx context.Context, resourceID int64) error {
	return m.deleteResource(ctx, resourceID)
}

func (m *mockMasterdataService) ImportUsersExcel(ctx context.Context, groupID int64, r io.Reader) (*UserImportReport, error) {
	return m.importUsersExcel(ctx, groupID, r)
}

func (m *mockMasterdataService) ExportUsersExcel(ctx context.Context, groupID int64) ([]byte, error) {
	return m.exportUsersExcel(ctx, groupID)
}

func masterTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/groups", h.CreateGroup)
	r.Get("/api/groups/{id}", h.GetGroup)
	r.Delete("/api/groups/{id}", h.DeleteGroup)
	r.Post("/api/resources", h.CreateResource)
	r.Get("/api/users/export/{group_id}", h.ExportUsers)
	return r
}

func TestCreateGroupHandler(t *testing.T) {
	svc := &mockMasterdataService{
		createGroup: func(ctx context.Context, in CreateGroupInput) (*Group, error) {
			if in.Name != "Cohort A" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &Group{ID: 1, Name: in.Name, Language: in.Language}, nil
		},
	}
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/groups", strings.NewReader(`{"name":"Cohort A","language":"English"}`))
	rec := httptest.NewRecorder()
	masterTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGetGroupHandlerNotFound(t *testing.T) {
	svc := &mockMasterdataService{
		getGroup: func(ctx context.Context, groupID int64) (*Group, error) {
			return nil, ErrGroupNotFound
		},
	}
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/groups/99", nil)
	rec := httptest.NewRecorder()
	masterTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGetGroupHandlerBadID(t *testing.T) {
	h := NewHandler(&mockMasterdataService{})

	req := httptest.NewRequest(http.MethodGet, "/api/groups/abc", nil)
	rec := httptest.NewRecorder()
	masterTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCreateResourceHandlerValidation(t *testing.T) {
	svc := &mockMasterdataService{
		createResource: func(ctx context.Context, in CreateResourceInput) (*Resource, error) {
			return nil, ErrInvalidInput
		},
	}
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/resources", strings.NewReader(`{"group_id":1,"type":"text"}`))
	rec := httptest.NewRecorder()
	masterTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestExportUsersHandler(t *testing.T) {
	svc := &mockMasterdataService{
		exportUsersExcel: func(ctx context.Context, groupID int64) ([]byte, error) {
			if groupID != 3 {
				t.Fatalf("unexpected group: %d", groupID)
			}
			return []byte("xlsx-bytes"), nil
		},
	}
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/users/export/3", nil)
	rec := httptest.NewRecorder()
	masterTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("unexpected content type: %q", ct)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("missing attachment disposition: %q", rec.Header().Get("Content-Disposition"))
	}
}
