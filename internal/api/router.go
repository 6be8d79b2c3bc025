package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes live under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/characters", apiHandler.SearchCharactersHandler)
		r.Get("/characters/{characterID}", apiHandler.GetCharacterHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Patch("/profile", apiHandler.UpdateProfileHandler)
			r.Post("/characters", apiHandler.CreateCharacterHandler)

			// Chat routes
			r.Post("/chats", apiHandler.CreateChatHandler)
			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Get("/chats/{chatID}", apiHandler.GetChatDetailsHandler)
			r.Patch("/chats/{chatID}", apiHandler.UpdateChatHandler)
			r.Delete("/chats/{chatID}", apiHandler.DeleteChatHandler)

			// Message routes
			r.Post("/chats/{chatID}/messages", apiHandler.CreateMessageHandler)
			r.Patch("/chats/{chatID}/messages/{messageID}", apiHandler.UpdateMessageHandler)
			r.Delete("/chats/{chatID}/messages", apiHandler.DeleteMessagesHandler)

			// Managed generation
			r.Post("/chats/messages/generate", apiHandler.GenerateHandler)
		})
	})

	return r
}
