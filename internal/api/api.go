package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/authcore"
	"github.com/artha-au/baasd/internal/backup"
	"github.com/artha-au/baasd/internal/collections"
	"github.com/artha-au/baasd/internal/ownership"
	"github.com/artha-au/baasd/internal/permissions"
	"github.com/artha-au/baasd/internal/ratelimit"
	"github.com/artha-au/baasd/internal/realtime"
	"github.com/artha-au/baasd/internal/records"
	"github.com/artha-au/baasd/internal/settings"
	"github.com/artha-au/baasd/internal/storage"
)

// API aggregates every core service the HTTP surface dispatches into.
type API struct {
	logger zerolog.Logger

	pool     *storage.Pool
	settings *settings.Cache

	auth      *authcore.Service
	authStore *authcore.Store

	collections *collections.Store
	records     *records.Store

	permStore *permissions.Store
	resolver  *permissions.Resolver
	ownership *ownership.Service

	bus     *realtime.Manager
	backups *backup.Scheduler

	loginLimiter *ratelimit.Limiter
	apiLimiter   *ratelimit.Limiter
}

// Deps is the constructor bundle for New.
type Deps struct {
	Logger       zerolog.Logger
	Pool         *storage.Pool
	Settings     *settings.Cache
	Auth         *authcore.Service
	AuthStore    *authcore.Store
	Collections  *collections.Store
	Records      *records.Store
	PermStore    *permissions.Store
	Resolver     *permissions.Resolver
	Ownership    *ownership.Service
	Bus          *realtime.Manager
	Backups      *backup.Scheduler
	LoginLimiter *ratelimit.Limiter
	APILimiter   *ratelimit.Limiter
}

// New builds the API from its dependencies.
func New(d Deps) *API {
	return &API{
		logger:       d.Logger.With().Str("component", "api").Logger(),
		pool:         d.Pool,
		settings:     d.Settings,
		auth:         d.Auth,
		authStore:    d.AuthStore,
		collections:  d.Collections,
		records:      d.Records,
		permStore:    d.PermStore,
		resolver:     d.Resolver,
		ownership:    d.Ownership,
		bus:          d.Bus,
		backups:      d.Backups,
		loginLimiter: d.LoginLimiter,
		apiLimiter:   d.APILimiter,
	}
}

// Router assembles the full chi route tree under /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(middleware.Compress(5))

	origins := a.settings.StringSlice(settings.CategoryAPI, settings.KeyCORSAllowedOrigins, []string{"*"})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(a.authenticate)
		r.Use(a.rateLimit)

		r.Get("/health", a.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.Post("/refresh", a.handleRefresh)
			r.Post("/logout", a.handleLogout)
			r.Post("/verify-email", a.handleVerifyEmail)
			r.With(a.requireAuth).Get("/me", a.handleMe)
		})

		r.Route("/collections", func(r chi.Router) {
			r.Get("/", a.handleListCollections)
			r.With(a.requireAdmin).Post("/", a.handleCreateCollection)
			r.With(a.requireAdmin).Get("/stats", a.handleCollectionStats)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", a.handleGetCollection)
				r.Get("/schema", a.handleGetSchema)
				r.With(a.requireAdmin).Put("/", a.handleUpdateCollection)
				r.With(a.requireAdmin).Delete("/", a.handleDeleteCollection)

				r.Route("/records", func(r chi.Router) {
					r.Get("/", a.handleListRecords)
					r.Post("/", a.handleCreateRecord)
					r.Get("/{id}", a.handleGetRecord)
					r.Put("/{id}", a.handleUpdateRecord)
					r.Delete("/{id}", a.handleDeleteRecord)
				})
			})
		})

		r.Get("/records", a.handleGlobalListRecords)

		r.Route("/permissions", func(r chi.Router) {
			r.Route("/roles", func(r chi.Router) {
				r.Use(a.requireAdmin)
				r.Get("/", a.handleListRoles)
				r.Post("/", a.handleCreateRole)
				r.Get("/{name}", a.handleGetRole)
				r.Put("/{name}", a.handleUpdateRole)
				r.Delete("/{name}", a.handleDeleteRole)
			})

			r.Route("/collections/{name}", func(r chi.Router) {
				r.With(a.requireAdmin).Get("/", a.handleListCollectionPermissions)
				r.With(a.requireAdmin).Post("/", a.handleSetCollectionPermission)

				r.Route("/records/{recordID}", func(r chi.Router) {
					r.Use(a.requireAuth)
					r.Get("/", a.handleListRecordPermissions)
					r.Route("/users/{userID}", func(r chi.Router) {
						r.Get("/", a.handleGetRecordPermission)
						r.Post("/", a.handleSetRecordPermission)
						r.Delete("/", a.handleDeleteRecordPermission)
					})
				})
			})

			r.With(a.requireAuth).Get("/users/me/collections", a.handleAccessibleCollections)
			r.With(a.requireAdmin).Put("/users/{userID}/role", a.handleAssignUserRole)
			r.Route("/users/{userID}/collections/{name}", func(r chi.Router) {
				r.Use(a.requireAdmin)
				r.Get("/", a.handleGetUserCollectionPermission)
				r.Post("/", a.handleSetUserCollectionPermission)
			})
		})

		r.Route("/ownership", func(r chi.Router) {
			r.Use(a.requireAuth)
			r.Get("/stats", a.handleOwnershipStats)
			r.Route("/collections/{name}/records", func(r chi.Router) {
				r.Get("/mine", a.handleOwnedRecords)
				r.With(a.requireAdmin).Get("/owned-by/{userID}", a.handleOwnedRecordsForUser)
				r.Post("/{id}/transfer", a.handleTransferOwnership)
				r.Get("/{id}/check", a.handleCheckOwnership)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Use(a.requireAdmin)
			r.Get("/", a.handleListSettings)
			r.Put("/", a.handleUpdateSetting)
		})

		r.Route("/backups", func(r chi.Router) {
			r.Use(a.requireAdmin)
			r.Get("/", a.handleListBackups)
			r.Post("/run", a.handleRunBackup)
		})

		r.Route("/ws", func(r chi.Router) {
			r.Get("/", a.handleWebsocket)
			r.Get("/status", a.handleWSStatus)
			r.With(a.requireAdmin).Get("/stats", a.handleWSStats)
			r.With(a.requireAdmin).Get("/connections", a.handleWSConnections)
			r.With(a.requireAdmin).Delete("/connections/{id}", a.handleWSDisconnect)
			r.With(a.requireAdmin).Post("/broadcast", a.handleWSBroadcast)
			r.With(a.requireAdmin).Get("/activity", a.handleWSActivity)
		})
	})

	return r
}

// handleRunBackup triggers one backup cycle on demand. The run result
// comes back whether it succeeded or not; a failed run reports its
// error in the body rather than as an HTTP failure, matching the
// health endpoint's treatment of the backup subsystem.
func (a *API) handleRunBackup(w http.ResponseWriter, r *http.Request) {
	run, err := a.backups.RunBackup(r.Context())
	if run == nil {
		respondError(w, a.logger, apperrors.New(apperrors.KindValidationError, "backups are not configured"))
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("manual backup failed")
	}
	respondData(w, http.StatusOK, run)
}

func (a *API) handleListBackups(w http.ResponseWriter, r *http.Request) {
	runs, err := a.backups.RecentRuns(r.Context(), 50)
	if err != nil {
		respondError(w, a.logger, err)
		return
	}
	respondData(w, http.StatusOK, runs)
}

// handleHealth reports pool usage and backup status. It never fails;
// degraded subsystems surface in the body, not the status code.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":   "ok",
		"database": a.pool.Stats(),
		"realtime": a.bus.Stats(),
	}
	if a.backups != nil {
		body["backup"] = a.backups.Health()
	}
	respondData(w, http.StatusOK, body)
}
