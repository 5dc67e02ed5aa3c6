package dataverse

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("dataverse credentials not configured")

const entitySet = "cra4a_quiz_assignments"

type Config struct {
	APIURL       string
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the login.microsoftonline.com endpoint. Useful for
	// tests.
	TokenURL        string
	QuizLinkBaseURL string
	DryRun          bool
	HTTPClient      *http.Client
}

type Syncer struct {
	db              *sql.DB
	apiURL          string
	tenantID        string
	clientID        string
	clientSecret    string
	tokenURL        string
	quizLinkBaseURL string
	dryRun          bool
	client          *http.Client
}

// assignmentPair is one distinct (user, question set) combination to push.
type assignmentPair struct {
	UserID        int64
	QuestionSetID int64
}

// Report summarizes one sync run.
type Report struct {
	Pairs   int `json:"pairs"`
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func NewSyncer(db *sql.DB, cfg Config) *Syncer {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" && cfg.TenantID != "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID)
	}
	linkBase := cfg.QuizLinkBaseURL
	if linkBase == "" {
		linkBase = "http://localhost:5173/quiz/list"
	}
	return &Syncer{
		db:              db,
		apiURL:          strings.TrimRight(cfg.APIURL, "/"),
		tenantID:        cfg.TenantID,
		clientID:        cfg.ClientID,
		clientSecret:    cfg.ClientSecret,
		tokenURL:        tokenURL,
		quizLinkBaseURL: linkBase,
		dryRun:          cfg.DryRun,
		client:          client,
	}
}

// Run pushes every distinct (user, question set) assignment pair to
// Dataverse. Missing users and per-record push failures are logged and
// counted; the run keeps going.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	if !s.dryRun && (s.apiURL == "" || s.tenantID == "" || s.clientID == "" || s.clientSecret == "") {
		return nil, ErrNotConfigured
	}

	pairs, err := s.assignmentPairs(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Pairs: len(pairs)}
	for _, pair := range pairs {
		email, err := s.userEmail(ctx, pair.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				log.Printf("dataverse: user %d not found, skipping", pair.UserID)
				report.Skipped++
				continue
			}
			return nil, err
		}

		link := s.quizLink(pair)
		if s.dryRun {
			log.Printf("dataverse: dry run, would sync user %d set %d (%s)", pair.UserID, pair.QuestionSetID, link)
			report.Synced++
			continue
		}

		if err := s.pushRecord(ctx, pair, email, link); err != nil {
			log.Printf("dataverse: sync user %d set %d: %v", pair.UserID, pair.QuestionSetID, err)
			report.Failed++
			continue
		}
		log.Printf("dataverse: synced user %d set %d", pair.UserID, pair.QuestionSetID)
		report.Synced++
	}
	return report, nil
}

func (s *Syncer) assignmentPairs(ctx context.Context) ([]assignmentPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id, question_set_id
		FROM question_assignments
		WHERE user_id IS NOT NULL
		ORDER BY user_id, question_set_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query assignment pairs: %w", err)
	}
	defer rows.Close()

	var pairs []assignmentPair
	for rows.Next() {
		var p assignmentPair
		if err := rows.Scan(&p.UserID, &p.QuestionSetID); err != nil {
			return nil, fmt.Errorf("scan assignment pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignment pairs: %w", err)
	}
	return pairs, nil
}

func (s *Syncer) userEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("load user email: %w", err)
	}
	return email, nil
}

func (s *Syncer) quizLink(pair assignmentPair) string {
	return fmt.Sprintf("%s?user_id=%d&question_set_id=%d", s.quizLinkBaseURL, pair.UserID, pair.QuestionSetID)
}

// pushRecord fetches a fresh token and POSTs one OData record. Tokens are
// not cached between records.
func (s *Syncer) pushRecord(ctx context.Context, pair assignmentPair, email, link string) error {
	token, err := s.fetchAccessToken(ctx)
	if err != nil {
		return err
	}

	record := map[string]interface{}{
		"cra4a_user_id":         pair.UserID,
		"cra4a_question_set_id": pair.QuestionSetID,
		"cra4a_email":           email,
		"cra4a_link":            link,
		"cra4a_status":          "assigned",
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/data/v9.2/%s", s.apiURL, entitySet)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build record request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set("Accept", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post record: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("post record: status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func (s *Syncer) fetchAccessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)
	form.Set("scope", s.apiURL+"/.default")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", fmt.Errorf("request token: status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}
	return payload.AccessToken, nil
}
