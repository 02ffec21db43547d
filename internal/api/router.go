package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/sydlexius/rosterimport/internal/api/middleware"
	"github.com/sydlexius/rosterimport/internal/backup"
	"github.com/sydlexius/rosterimport/internal/maintenance"
	"github.com/sydlexius/rosterimport/internal/player"
	"github.com/sydlexius/rosterimport/internal/roster"
)

// DefaultMaxUploadBytes bounds an upload when RouterDeps leaves it unset.
const DefaultMaxUploadBytes = 10 << 20

// RouterDeps bundles all dependencies needed by the HTTP router.
// BackupService and MaintenanceService may be nil.
type RouterDeps struct {
	PreviewService     *roster.Service
	Executor           *roster.Executor
	HistoryService     *roster.HistoryService
	PlayerService      *player.Service
	JobStore           *roster.JobStore
	BackupService      *backup.Service
	MaintenanceService *maintenance.Service
	UploadLimiter      *middleware.UploadLimiter
	DB                 *sql.DB
	Logger             *slog.Logger
	BasePath           string
	MaxUploadBytes     int64
	CORSOrigins        []string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	previewService     *roster.Service
	executor           *roster.Executor
	historyService     *roster.HistoryService
	playerService      *player.Service
	jobStore           *roster.JobStore
	backupService      *backup.Service
	maintenanceService *maintenance.Service
	uploadLimiter      *middleware.UploadLimiter
	db                 *sql.DB
	logger             *slog.Logger
	basePath           string
	maxUpload          int64
	corsOrigins        []string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Router{
		previewService:     deps.PreviewService,
		executor:           deps.Executor,
		historyService:     deps.HistoryService,
		playerService:      deps.PlayerService,
		jobStore:           deps.JobStore,
		backupService:      deps.BackupService,
		maintenanceService: deps.MaintenanceService,
		uploadLimiter:      deps.UploadLimiter,
		db:                 deps.DB,
		logger:             deps.Logger.With(slog.String("component", "api")),
		basePath:           deps.BasePath,
		maxUpload:          maxUpload,
		corsOrigins:        deps.CORSOrigins,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)

	// Import routes
	mux.Handle("POST "+bp+"/api/v1/imports/preview", r.uploadLimiter.Middleware(http.HandlerFunc(r.handlePreview)))
	mux.HandleFunc("GET "+bp+"/api/v1/imports/preview/{jobId}", r.handleGetPreview)
	mux.HandleFunc("POST "+bp+"/api/v1/imports/execute", r.handleExecute)
	mux.HandleFunc("GET "+bp+"/api/v1/imports", r.handleListImports)
	mux.HandleFunc("GET "+bp+"/api/v1/imports/{id}", r.handleGetImport)

	// Player registry routes
	mux.HandleFunc("GET "+bp+"/api/v1/players", r.handleListPlayers)
	mux.HandleFunc("GET "+bp+"/api/v1/players/{id}", r.handleGetPlayer)

	// System routes
	mux.HandleFunc("GET "+bp+"/api/v1/system/backups", r.handleBackupList)
	mux.HandleFunc("GET "+bp+"/api/v1/system/database", r.handleMaintenanceStatus)
	mux.HandleFunc("POST "+bp+"/api/v1/system/database/optimize", r.handleMaintenanceOptimize)

	var h http.Handler = middleware.SecurityHeaders(mux)
	if len(r.corsOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: r.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
			MaxAge:         600,
		}).Handler(h)
	}
	return middleware.Logging(r.logger)(h)
}
