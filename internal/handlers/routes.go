package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/oralhistory/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users         UserStore
	Sessions      SessionManager
	BridgeSecret  string
	Media         MediaService
	Friends       FriendService
	Notifications NotificationService
	Webhooks      WebhookProcessor
	Contacts      ContactService
	Pages         PageLibrary
	DB            Pinger

	CORSOrigins    []string
	MaxUploadBytes int64
	MaxPosterBytes int64
	Heartbeat      time.Duration

	// Sensitive guards invites, contact submissions and the auth bridge per
	// client IP. Nil disables the guard.
	Sensitive       middleware.RateLimiter
	SensitiveWindow time.Duration
}

// NewRouter wires every API route.
func NewRouter(deps Dependencies) http.Handler {
	health := HealthHandler{DB: deps.DB}
	authH := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, BridgeSecret: deps.BridgeSecret}
	media := MediaHandler{Media: deps.Media, MaxUploadBytes: deps.MaxUploadBytes, MaxPosterBytes: deps.MaxPosterBytes}
	friendsH := FriendHandler{Friends: deps.Friends}
	notes := NotificationHandler{Notifications: deps.Notifications, Heartbeat: deps.Heartbeat}
	webhook := WebhookHandler{Processor: deps.Webhooks}
	contact := ContactHandler{Contacts: deps.Contacts}
	pages := PageHandler{Pages: deps.Pages}

	limit := func(scope string) func(http.Handler) http.Handler {
		return middleware.Limit(deps.Sensitive, scope, deps.SensitiveWindow)
	}

	r := chi.NewRouter()
	r.Get("/healthz", health.Handle)

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		r.Post("/webhook", webhook.Handle)
		r.With(limit("auth")).Post("/auth/session", authH.Session)
		r.Post("/auth/refresh", authH.Refresh)
		r.Post("/auth/logout", authH.Logout)

		r.Get("/pages", pages.List)
		r.Get("/pages/{slug}", pages.Get)

		// Token-aware routes: a valid token resolves the caller, no token
		// continues anonymously.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(deps.Sessions, deps.Users))

			r.With(limit("contact")).Post("/contact", withPrincipal(contact.Submit))
			r.Get("/videos/public", media.Public)
			r.Get("/videos/{id}", withPrincipal(media.Get))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)

				r.Post("/user-media", withPrincipal(media.Upload))
				r.Get("/user-media/{id}/transcript", withPrincipal(media.Transcript))
				r.Put("/user-media/{id}/transcript", withPrincipal(media.EditTranscript))
				r.Post("/user-media/{id}/approve", withPrincipal(media.Finalize))
				r.Post("/user-media/{id}/skip-transcript", withPrincipal(media.SkipTranscript))
				r.Get("/media/{id}/status", withPrincipal(media.Status))

				r.Get("/videos", withPrincipal(media.ListMine))
				r.Get("/videos/feed", withPrincipal(media.Feed))
				r.Patch("/videos/{id}", withPrincipal(media.Update))
				r.Delete("/videos/{id}", withPrincipal(media.Delete))
				r.Post("/videos/{id}/poster", withPrincipal(media.Poster))
				r.Post("/videos/{id}/speakers", withPrincipal(media.RelabelSpeaker))
				r.Post("/videos/{id}/reanalyze-speakers", withPrincipal(media.ReanalyzeSpeakers))

				r.Get("/friends", withPrincipal(friendsH.List))
				r.Get("/friends/requests", withPrincipal(friendsH.Incoming))
				r.Get("/friends/requests/outgoing", withPrincipal(friendsH.Outgoing))
				r.Post("/friends/request", withPrincipal(friendsH.Request))
				r.Post("/friends/accept", withPrincipal(friendsH.Accept))
				r.Post("/friends/reject", withPrincipal(friendsH.Reject))
				r.With(limit("invite")).Post("/friends/invite-email", withPrincipal(friendsH.InviteEmail))
				r.Post("/friends/accept-invite", withPrincipal(friendsH.AcceptInvite))

				r.Get("/notifications", withPrincipal(notes.List))
				r.Get("/notifications/unread-count", withPrincipal(notes.UnreadCount))
				r.Get("/notifications/stream", withPrincipal(notes.Stream))
				r.Patch("/notifications/{id}/read", withPrincipal(notes.MarkRead))
				r.Post("/notifications/mark-all-read", withPrincipal(notes.MarkAllRead))
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Get("/user-media", withPrincipal(media.PendingApproval))
				r.Post("/user-media/{id}/final-approve", withPrincipal(media.FinalApprove))
				r.Post("/user-media/{id}/retry", withPrincipal(media.Retry))
				r.Get("/contacts", withPrincipal(contact.List))
				r.Post("/notifications/send", withPrincipal(notes.Send))
			})
		})
	})

	return r
}
