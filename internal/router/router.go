package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"courseloom-backend/internal/handlers"
	"courseloom-backend/internal/middleware"
)

func New(
	jwtAuth *middleware.JWTAuth,
	treeHandler *handlers.ContentTreeHandler,
	quizHandler *handlers.QuizHandler,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Generation is the expensive path (20 req/min per IP)
	generateLimiter := middleware.NewRateLimiter(20, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jwtAuth.Middleware)

		// ──── Content Tree Routes ────
		r.Route("/courses/{courseID}", func(r chi.Router) {
			r.Get("/modules", treeHandler.ListModules)
			r.Post("/modules", treeHandler.CreateModule)
			r.Put("/modules/reorder", treeHandler.ReorderModules)
			r.Get("/quizzes", quizHandler.List)
		})

		r.Route("/modules/{id}", func(r chi.Router) {
			r.Get("/", treeHandler.GetModule)
			r.Put("/publish", treeHandler.TogglePublish)
			r.Post("/items", treeHandler.AddItem)
			r.Put("/items/reorder", treeHandler.ReorderItems)
			r.Get("/indexing", treeHandler.ModuleIndexing)
		})

		r.Post("/items/{id}/move", treeHandler.MoveItem)

		// ──── Quiz Authoring Routes ────
		r.Route("/quizzes", func(r chi.Router) {
			r.Post("/", quizHandler.CreateManual)

			r.Group(func(r chi.Router) {
				r.Use(generateLimiter.Middleware)
				r.Post("/generate", quizHandler.Generate)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", quizHandler.Get)
				r.Put("/", quizHandler.UpdateMeta)
				r.Post("/publish", quizHandler.Publish)
				r.Post("/duplicate", quizHandler.Duplicate)
				r.Delete("/", quizHandler.Delete)
				r.Put("/questions/{questionID}", quizHandler.UpdateQuestion)

				r.Group(func(r chi.Router) {
					r.Use(generateLimiter.Middleware)
					r.Post("/questions/{questionID}/regenerate", quizHandler.RegenerateQuestion)
				})
			})
		})
	})

	return r
}
