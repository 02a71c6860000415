package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/tenantguard/app"
	"github.com/upb/tenantguard/handlers"
	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/utils"
)

// Route classes
const (
	classAdmin    = "admin"
	classRoot     = "root"
	classStrict   = "strict"
	classStandard = "standard"
	classPersonal = "personal"
)

// SetupRoutes configures all application routes and middleware. Every /api/v1 route is
// declared through the authorization chain; Guard panics on a bad declaration.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if deps.Config.Server.RequestTimeout > 0 {
		r.Use(chimw.Timeout(deps.Config.Server.RequestTimeout))
	}
	r.Use(deps.Metrics.Instrument)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.Logger).
		WithCheck("database", handlers.DatabaseCheck(deps.DB.DB))
	if deps.AuditDB != nil && deps.AuditDB != deps.DB {
		health.WithCheck("audit_database", handlers.DatabaseCheck(deps.AuditDB.DB))
	}
	if deps.Redis != nil {
		health.WithCheck("redis", handlers.RedisCheck(deps.Redis))
	}

	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	guard := deps.Chain.Guard
	repos := deps.Repos

	contacts := handlers.NewContactHandler(deps.TxManager, repos.Contacts, repos.ContactNotes, deps.Logger)
	tenants := handlers.NewTenantHandler(deps.TxManager, repos.Tenants, deps.Logger)
	billing := handlers.NewBillingHandler(deps.TxManager, repos.Billing, deps.Logger)
	prefs := handlers.NewPreferenceHandler(deps.TxManager, repos.Preferences, deps.Logger)
	auditLogs := handlers.NewAuditHandler(deps.TxManager, deps.AuditWriter, deps.AuditWriter, deps.Logger)

	contactByID := middleware.ByID("id", repos.ContactOwner.TenantOf)
	noteParent := middleware.ByParent("id", repos.ContactNotes.ParentTenantID)

	r.Route("/api/v1", func(r chi.Router) {
		// Contacts: tenant-scoped records
		r.Route("/contacts", func(r chi.Router) {
			r.With(guard(endpoint(classStandard, models.ResourceContact, models.OpRead, middleware.OwnTenant()))).
				Get("/", contacts.HandleList)
			r.With(guard(endpoint(classStandard, models.ResourceContact, models.OpCreate, middleware.OwnTenant()))).
				Post("/", contacts.HandleCreate)
			r.With(guard(endpoint(classStandard, models.ResourceContact, models.OpRead, contactByID))).
				Get("/{id}", contacts.HandleGet)
			r.With(guard(endpoint(classStandard, models.ResourceContact, models.OpUpdate, contactByID))).
				Patch("/{id}", contacts.HandleUpdate)
			r.With(guard(endpoint(classStandard, models.ResourceContact, models.OpDelete, contactByID))).
				Delete("/{id}", contacts.HandleDelete)

			// Notes inherit ownership from their contact
			r.With(guard(endpoint(classStandard, models.ResourceContactNote, models.OpRead, noteParent))).
				Get("/{id}/notes", contacts.HandleListNotes)
			r.With(guard(endpoint(classStandard, models.ResourceContactNote, models.OpCreate, noteParent))).
				Post("/{id}/notes", contacts.HandleCreateNote)
		})

		// The caller's own tenant
		r.With(guard(endpoint(classRoot, models.ResourceTenant, models.OpRead, middleware.OwnTenant()))).
			Get("/tenant", tenants.HandleGetCurrent)
		r.With(guard(endpoint(classRoot, models.ResourceTenant, models.OpUpdate, middleware.OwnTenant()))).
			Patch("/tenant", tenants.HandleUpdateCurrent)

		// Tenant lifecycle (super-admin)
		r.Route("/tenants", func(r chi.Router) {
			r.With(guard(endpoint(classRoot, models.ResourceTenant, models.OpCreate, middleware.OwnTenant()))).
				Post("/", tenants.HandleCreate)
			r.With(guard(endpoint(classRoot, models.ResourceTenant, models.OpDelete, middleware.PathTenant("id")))).
				Delete("/{id}", tenants.HandleDelete)
		})

		// Billing settings: readable by members, writable by admins
		r.With(guard(endpoint(classAdmin, models.ResourceBillingSettings, models.OpRead, middleware.OwnTenant()))).
			Get("/billing", billing.HandleGet)
		r.With(guard(endpoint(classAdmin, models.ResourceBillingSettings, models.OpUpdate, middleware.OwnTenant()))).
			Put("/billing", billing.HandleUpdate)

		// Personal scope
		r.With(guard(endpoint(classPersonal, models.ResourceUserPreference, models.OpRead, middleware.Self()))).
			Get("/me", handlers.GetCurrentPrincipalHandler(deps.Logger))
		r.Route("/me/preferences", func(r chi.Router) {
			r.With(guard(endpoint(classPersonal, models.ResourceUserPreference, models.OpRead, middleware.Self()))).
				Get("/", prefs.HandleList)
			r.With(guard(endpoint(classPersonal, models.ResourceUserPreference, models.OpUpdate, middleware.Self()))).
				Put("/{key}", prefs.HandlePut)
		})

		// Audit log: append-only
		r.Route("/audit", func(r chi.Router) {
			r.With(guard(endpoint(classStrict, models.ResourceAuditLog, models.OpRead, middleware.OwnTenant()))).
				Get("/logs", auditLogs.HandleList)
			r.With(guard(endpoint(classStrict, models.ResourceAuditLog, models.OpRead, middleware.Keyed("id")))).
				Get("/logs/{id}", auditLogs.HandleGet)
			r.With(guard(endpoint(classStrict, models.ResourceAuditLog, models.OpUpdate, middleware.Keyed("id")))).
				Put("/logs/{id}", auditLogs.HandleMutation)
			r.With(guard(endpoint(classStrict, models.ResourceAuditLog, models.OpUpdate, middleware.Keyed("id")))).
				Patch("/logs/{id}", auditLogs.HandleMutation)
			r.With(guard(endpoint(classStrict, models.ResourceAuditLog, models.OpDelete, middleware.Keyed("id")))).
				Delete("/logs/{id}", auditLogs.HandleMutation)
			r.With(guard(endpoint(classStrict, models.ResourceAuditLog, models.OpRead, middleware.OwnTenant()))).
				Get("/chains/{chainID}/verify", auditLogs.HandleVerify)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func endpoint(class string, rt models.ResourceType, op models.Operation, loader middleware.Loader) middleware.Endpoint {
	return middleware.Endpoint{Class: class, ResourceType: rt, Operation: op, Loader: loader}
}
