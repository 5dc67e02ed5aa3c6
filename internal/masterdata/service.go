package masterdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrGroupNotFound    = errors.New("group not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrEmailTaken       = errors.New("email already registered")
)

const (
	ResourceTypeText     = "text"
	ResourceTypeFile     = "file"
	ResourceTypeExternal = "external"
)

type Service struct {
	db *sql.DB
}

type Group struct {
	ID          int64     `json:"id"`
	AuthorID    *int64    `json:"author_id,omitempty"`
	Name        string    `json:"name"`
	Language    string    `json:"language"`
	Memo        *string   `json:"memo,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateGroupInput struct {
	AuthorID    *int64
	Name        string
	Language    string
	Memo        string
	Description string
}

type UpdateGroupInput struct {
	ID          int64
	Name        string
	Language    string
	Memo        string
	Description string
}

type User struct {
	ID        int64     `json:"id"`
	GroupID   int64     `json:"group_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Language  *string   `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateUserInput struct {
	GroupID  int64
	Name     string
	Email    string
	Language string
}

type Resource struct {
	ID            int64     `json:"id"`
	GroupID       int64     `json:"group_id"`
	AuthorID      *int64    `json:"author_id,omitempty"`
	Type          string    `json:"type"`
	Content       *string   `json:"content,omitempty"`
	FilePath      *string   `json:"file_path,omitempty"`
	ConnectionKey *string   `json:"connection_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type CreateResourceInput struct {
	GroupID       int64
	AuthorID      *int64
	Type          string
	Content       string
	FilePath      string
	ConnectionKey string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (*Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	language := strings.TrimSpace(in.Language)
	if language == "" {
		language = "ko"
	}

	var g Group
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (author_id, name, language, memo, description, created_at)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), now())
		RETURNING id, author_id, name, language, memo, description, created_at
	`, in.AuthorID, name, language, strings.TrimSpace(in.Memo), strings.TrimSpace(in.Description)).Scan(
		&g.ID, &g.AuthorID, &g.Name, &g.Language, &g.Memo, &g.Description, &g.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	return &g, nil
}

func (s *Service) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	var g Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, author_id, name, language, memo, description, created_at
		FROM groups
		WHERE id = $1
	`, groupID).Scan(&g.ID, &g.AuthorID, &g.Name, &g.Language, &g.Memo, &g.Description, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("load group: %w", err)
	}
	return &g, nil
}

func (s *Service) ListGroups(ctx context.Context, authorID int64) ([]Group, error) {
	query := `
		SELECT id, author_id, name, language, memo, description, created_at
		FROM groups
	`
	args := []interface{}{}
	if authorID > 0 {
		query += ` WHERE author_id = $1`
		args = append(args, authorID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	out := make([]Group, 0)
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.AuthorID, &g.Name, &g.Language, &g.Memo, &g.Description, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

func (s *Service) UpdateGroup(ctx context.Context, in UpdateGroupInput) (*Group, error) {
	name := strings.TrimSpace(in.Name)
	if in.ID <= 0 || name == "" {
		return nil, ErrInvalidInput
	}
	language := strings.TrimSpace(in.Language)
	if language == "" {
		language = "ko"
	}

	var g Group
	err := s.db.QueryRowContext(ctx, `
		UPDATE groups
		SET name = $2,
			language = $3,
			memo = NULLIF($4,''),
			description = NULLIF($5,'')
		WHERE id = $1
		RETURNING id, author_id, name, language, memo, description, created_at
	`, in.ID, name, language, strings.TrimSpace(in.Memo), strings.TrimSpace(in.Description)).Scan(
		&g.ID, &g.AuthorID, &g.Name, &g.Language, &g.Memo, &g.Description, &g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("update group: %w", err)
	}
	return &g, nil
}

func (s *Service) DeleteGroup(ctx context.Context, groupID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete group rows affected: %w", err)
	}
	if n == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if in.GroupID <= 0 || name == "" || email == "" {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)
	`, email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check user email: %w", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	if err := s.requireGroup(ctx, in.GroupID); err != nil {
		return nil, err
	}

	var u User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (group_id, name, email, language, created_at)
		VALUES ($1, $2, $3, NULLIF($4,''), now())
		RETURNING id, group_id, name, email, language, created_at
	`, in.GroupID, name, email, strings.TrimSpace(in.Language)).Scan(
		&u.ID, &u.GroupID, &u.Name, &u.Email, &u.Language, &u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, name, email, language, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.GroupID, &u.Name, &u.Email, &u.Language, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

func (s *Service) ListUsers(ctx context.Context, groupID int64) ([]User, error) {
	query := `
		SELECT id, group_id, name, email, language, created_at
		FROM users
	`
	args := []interface{}{}
	if groupID > 0 {
		query += ` WHERE group_id = $1`
		args = append(args, groupID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.GroupID, &u.Name, &u.Email, &u.Language, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *Service) DeleteUser(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) CreateResource(ctx context.Context, in CreateResourceInput) (*Resource, error) {
	if in.GroupID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := validateResourcePayload(in.Type, in.Content, in.FilePath, in.ConnectionKey); err != nil {
		return nil, err
	}

	if err := s.requireGroup(ctx, in.GroupID); err != nil {
		return nil, err
	}

	var res Resource
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO resources (group_id, author_id, type, content, file_path, connection_key, created_at)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), now())
		RETURNING id, group_id, author_id, type, content, file_path, connection_key, created_at
	`, in.GroupID, in.AuthorID, strings.TrimSpace(in.Type),
		strings.TrimSpace(in.Content), strings.TrimSpace(in.FilePath), strings.TrimSpace(in.ConnectionKey)).Scan(
		&res.ID, &res.GroupID, &res.AuthorID, &res.Type, &res.Content, &res.FilePath, &res.ConnectionKey, &res.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert resource: %w", err)
	}
	return &res, nil
}

func (s *Service) GetResource(ctx context.Context, resourceID int64) (*Resource, error) {
	var res Resource
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, author_id, type, content, file_path, connection_key, created_at
		FROM resources
		WHERE id = $1
	`, resourceID).Scan(&res.ID, &res.GroupID, &res.AuthorID, &res.Type, &res.Content, &res.FilePath, &res.ConnectionKey, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("load resource: %w", err)
	}
	return &res, nil
}

func (s *Service) ListResources(ctx context.Context, groupID int64) ([]Resource, error) {
	query := `
		SELECT id, group_id, author_id, type, content, file_path, connection_key, created_at
		FROM resources
	`
	args := []interface{}{}
	if groupID > 0 {
		query += ` WHERE group_id = $1`
		args = append(args, groupID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()

	out := make([]Resource, 0)
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.GroupID, &res.AuthorID, &res.Type, &res.Content, &res.FilePath, &res.ConnectionKey, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return out, nil
}

func (s *Service) DeleteResource(ctx context.Context, resourceID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = $1`, resourceID)
	if err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete resource rows affected: %w", err)
	}
	if n == 0 {
		return ErrResourceNotFound
	}
	return nil
}

func (s *Service) requireGroup(ctx context.Context, groupID int64) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)
	`, groupID).Scan(&exists); err != nil {
		return fmt.Errorf("check group exists: %w", err)
	}
	if !exists {
		return ErrGroupNotFound
	}
	return nil
}

// validateResourcePayload enforces that exactly the payload field matching
// the resource type is set: text carries content, file carries file_path,
// external carries connection_key.
func validateResourcePayload(resourceType, content, filePath, connectionKey string) error {
	content = strings.TrimSpace(content)
	filePath = strings.TrimSpace(filePath)
	connectionKey = strings.TrimSpace(connectionKey)

	switch strings.TrimSpace(resourceType) {
	case ResourceTypeText:
		if content == "" || filePath != "" || connectionKey != "" {
			return ErrInvalidInput
		}
	case ResourceTypeFile:
		if filePath == "" || content != "" || connectionKey != "" {
			return ErrInvalidInput
		}
	case ResourceTypeExternal:
		if connectionKey == "" || content != "" || filePath != "" {
			return ErrInvalidInput
		}
	default:
		return ErrInvalidInput
	}
	return nil
}
