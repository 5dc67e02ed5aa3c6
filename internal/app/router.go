package app

import (
	"database/sql"
	"net/http"
	"time"

	"eduquiz/internal/agent"
	"eduquiz/internal/app/observability"
	"eduquiz/internal/auth"
	"eduquiz/internal/feedback"
	"eduquiz/internal/masterdata"
	"eduquiz/internal/quiz"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	authSvc := auth.NewService(db, auth.ServiceConfig{
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  time.Duration(cfg.JWTTTLHours) * time.Hour,
	})
	authHandler := auth.NewHandler(authSvc)

	masterSvc := masterdata.NewService(db)
	masterHandler := masterdata.NewHandler(masterSvc)

	agentClient := agent.NewClient(agent.Config{
		TenantID:     cfg.AgentTenantID,
		ClientID:     cfg.AgentClientID,
		ClientSecret: cfg.AgentClientSecret,
		BaseURL:      cfg.AgentBaseURL,
		Scope:        cfg.AgentScope,
		PollInterval: cfg.AgentPollInterval,
		PollAttempts: cfg.AgentPollAttempts,
	})

	quizSvc := quiz.NewService(db, agentClient, cfg.QuizAgentID)
	quizHandler := quiz.NewHandler(quizSvc)

	feedbackSvc := feedback.NewService(db, agentClient, cfg.FeedbackAgentID)
	feedbackHandler := feedback.NewHandler(feedbackSvc)

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api", func(api chi.Router) {
		api.Group(func(limited chi.Router) {
			limited.Use(RateLimitMiddleware(authLimiter))
			limited.Post("/auth/register", authHandler.Register)
			limited.Post("/auth/login", authHandler.Login)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)

			secure.Get("/auth/me", authHandler.Me)
			secure.Get("/authors", authHandler.ListAuthors)
			secure.Get("/authors/{id}", authHandler.GetAuthor)
			secure.Delete("/authors/{id}", authHandler.DeleteAuthor)

			secure.Post("/groups", masterHandler.CreateGroup)
			secure.Get("/groups", masterHandler.ListGroups)
			secure.Get("/groups/{id}", masterHandler.GetGroup)
			secure.Put("/groups/{id}", masterHandler.UpdateGroup)
			secure.Delete("/groups/{id}", masterHandler.DeleteGroup)

			secure.Post("/users", masterHandler.CreateUser)
			secure.Get("/users", masterHandler.ListUsers)
			secure.Get("/users/{id}", masterHandler.GetUser)
			secure.Delete("/users/{id}", masterHandler.DeleteUser)
			secure.Post("/users/import/{group_id}", masterHandler.ImportUsers)
			secure.Get("/users/export/{group_id}", masterHandler.ExportUsers)

			secure.Post("/resources", masterHandler.CreateResource)
			secure.Get("/resources", masterHandler.ListResources)
			secure.Get("/resources/{id}", masterHandler.GetResource)
			secure.Delete("/resources/{id}", masterHandler.DeleteResource)

			secure.Post("/questions", quizHandler.CreateQuestion)
			secure.Get("/questions", quizHandler.ListQuestions)
			secure.Get("/questions/{id}", quizHandler.GetQuestion)
			secure.Delete("/questions/{id}", quizHandler.DeleteQuestion)

			secure.Post("/question_sets", quizHandler.CreateQuestionSet)
			secure.Get("/question_sets", quizHandler.ListQuestionSets)
			secure.Post("/question_sets/generate", quizHandler.Generate)
			secure.Get("/question_sets/by-group/{group_id}", quizHandler.ListQuizzesByGroup)
			secure.Get("/question_sets/{id}", quizHandler.GetQuestionSet)
			secure.Delete("/question_sets/{id}", quizHandler.DeleteQuestionSet)

			secure.Post("/question_assignments", quizHandler.CreateAssignment)
			secure.Get("/question_assignments", quizHandler.ListAssignments)
			secure.Post("/question_assignments/quiz/submit", feedbackHandler.Submit)
			secure.Get("/question_assignments/quiz/list/{user_id}/{question_set_id}", quizHandler.QuizForUser)
			secure.Get("/question_assignments/quiz/result/{user_id}/{question_set_id}", quizHandler.QuizResultForUser)
			secure.Get("/question_assignments/{id}", quizHandler.GetAssignment)
			secure.Delete("/question_assignments/{id}", quizHandler.DeleteAssignment)
		})
	})

	return r
}
