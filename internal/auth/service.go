package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrAuthorNotFound     = errors.New("author not found")
	ErrInvalidToken       = errors.New("invalid token")
)

type Service struct {
	db         *sql.DB
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
}

type ServiceConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

type Author struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type tokenClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	cost := cfg.BcryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		jwtSecret:  []byte(cfg.JWTSecret),
		tokenTTL:   ttl,
		bcryptCost: cost,
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Author, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if name == "" || email == "" || len(in.Password) < 8 {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM authors WHERE email = $1)
	`, email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check author email: %w", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var author Author
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO authors (name, email, password_hash, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, name, email, created_at
	`, name, email, string(hash)).Scan(&author.ID, &author.Name, &author.Email, &author.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert author: %w", err)
	}
	return &author, nil
}

// Login verifies the credentials and returns a signed bearer token together
// with the author record.
func (s *Service) Login(ctx context.Context, email, password string) (string, *Author, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", nil, ErrInvalidCredentials
	}

	var (
		author Author
		hash   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at
		FROM authors
		WHERE email = $1
	`, email).Scan(&author.ID, &author.Name, &author.Email, &hash, &author.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("load author by email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(&author)
	if err != nil {
		return "", nil, err
	}
	return token, &author, nil
}

func (s *Service) IssueToken(author *Author) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Name:  author.Name,
		Email: author.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", author.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a bearer token and reconstructs the author identity
// from its claims. No database round-trip per request.
func (s *Service) ParseToken(token string) (*Author, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	id := int64(0)
	if _, err := fmt.Sscanf(claims.Subject, "%d", &id); err != nil || id <= 0 {
		return nil, ErrInvalidToken
	}
	return &Author{ID: id, Name: claims.Name, Email: claims.Email}, nil
}

func (s *Service) GetAuthor(ctx context.Context, authorID int64) (*Author, error) {
	var author Author
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, created_at
		FROM authors
		WHERE id = $1
	`, authorID).Scan(&author.ID, &author.Name, &author.Email, &author.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAuthorNotFound
		}
		return nil, fmt.Errorf("load author: %w", err)
	}
	return &author, nil
}

func (s *Service) ListAuthors(ctx context.Context) ([]Author, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, created_at
		FROM authors
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query authors: %w", err)
	}
	defer rows.Close()

	out := make([]Author, 0)
	for rows.Next() {
		var a Author
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authors: %w", err)
	}
	return out, nil
}

func (s *Service) DeleteAuthor(ctx context.Context, authorID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM authors WHERE id = $1`, authorID)
	if err != nil {
		return fmt.Errorf("delete author: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete author rows affected: %w", err)
	}
	if n == 0 {
		return ErrAuthorNotFound
	}
	return nil
}
