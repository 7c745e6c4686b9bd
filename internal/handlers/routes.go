package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prudhvinik1/changesync/internal/events"
	"github.com/prudhvinik1/changesync/internal/lifecycle"
	"github.com/prudhvinik1/changesync/internal/repositories"
	"github.com/prudhvinik1/changesync/internal/services"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Auth       *services.AuthService
	Changes    *services.ChangesService
	KV         *services.KVService
	Hub        *events.Hub
	Presence   repositories.PresenceRepository
	Lifecycle  *lifecycle.Lifecycle
	Storage    Pinger
	InstanceID string
	Logger     *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Storage != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Storage.Ping(ctx); err != nil {
				writeUnavailable(w, "storage-unavailable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	router.Handle("/metrics", promhttp.Handler())

	var stop <-chan struct{}
	if d.Lifecycle != nil {
		stop = d.Lifecycle.AwaitShutdown()
	}

	changes := NewChangesHandler(d.Changes)
	kv := NewKVHandler(d.KV)
	auth := NewAuthHandler(d.Auth)
	updates := NewUpdatesHandler(d.Hub, d.Presence, d.InstanceID, stop, d.Logger)
	connections := NewConnectionsHandler(d.Hub, d.Presence, d.InstanceID)

	router.Route("/v2", func(r chi.Router) {
		r.Use(RefuseWritesDuringShutdown(d.Lifecycle))

		r.Post("/auth/token", auth.IssueToken)
		r.Post("/auth/logout", auth.Logout)
		r.Post("/auth/logout-all", auth.LogoutAll)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(d.Auth))

			r.Get("/changes", changes.GetChanges)
			r.Get("/cursor", changes.GetCursor)

			r.Get("/kv", kv.List)
			r.Get("/kv/{key}", kv.Get)
			r.Put("/kv/{key}", kv.Put)
			r.Delete("/kv/{key}", kv.Delete)

			r.Get("/connections", connections.List)
			r.Get("/updates", updates.ServeHTTP)
		})
	})

	return router
}
