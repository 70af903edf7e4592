package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suriai/attendengine/internal/api/handlers"
	"github.com/suriai/attendengine/internal/api/ws"
	"github.com/suriai/attendengine/internal/attendance"
	"github.com/suriai/attendengine/internal/auth"
	"github.com/suriai/attendengine/internal/queue"
	"github.com/suriai/attendengine/internal/storage"
	"github.com/suriai/attendengine/internal/vision"
)

// RouterConfig bundles every collaborator NewRouter wires into handlers:
// gin.Engine in release mode, Recovery, request logging, cors.Default(),
// unauthenticated /healthz /readyz /metrics, an APIKeyMiddleware-guarded
// /v1 group.
type RouterConfig struct {
	APIKey       string
	DB           *storage.PostgresStore
	MinIO        *storage.MinIOStore
	Producer     *queue.Producer
	Hub          *ws.Hub
	Enroller     *vision.Enroller
	Gallery      *vision.IdentityGallery
	StateMachine *attendance.StateMachine
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	v1.GET("/ws", cfg.Hub.HandleWS)

	groupH := handlers.NewGroupHandler(cfg.DB)
	v1.POST("/groups", groupH.Create)
	v1.GET("/groups", groupH.List)
	v1.GET("/groups/:id", groupH.Get)
	v1.PUT("/groups/:id", groupH.Update)
	v1.DELETE("/groups/:id", groupH.Delete)

	memberH := handlers.NewMemberHandler(cfg.DB)
	v1.POST("/groups/:id/members", memberH.Create)
	v1.GET("/groups/:id/members", memberH.List)
	v1.GET("/groups/:id/members/:person_id", memberH.Get)
	v1.PUT("/groups/:id/members/:person_id", memberH.Update)
	v1.DELETE("/groups/:id/members/:person_id", memberH.Delete)

	recordH := handlers.NewRecordHandler(cfg.DB)
	v1.GET("/records", recordH.List)
	v1.POST("/records", recordH.Create)

	sessionH := handlers.NewSessionHandler(cfg.DB)
	v1.GET("/sessions", sessionH.List)

	eventH := handlers.NewEventHandler(cfg.StateMachine)
	v1.POST("/events", eventH.Create)

	settingsH := handlers.NewSettingsHandler(cfg.DB)
	v1.GET("/settings", settingsH.Get)
	v1.PUT("/settings", settingsH.Update)

	galleryH := handlers.NewGalleryHandler(cfg.DB, cfg.Enroller, cfg.Gallery, cfg.MinIO)
	v1.POST("/gallery/register", galleryH.Register)
	v1.POST("/gallery/bulk_register", galleryH.BulkRegister)
	v1.POST("/gallery/bulk_detect_faces_in_images", galleryH.BulkDetect)
	v1.GET("/gallery/:person_id/photo", galleryH.Photo)
	v1.DELETE("/gallery/:person_id", galleryH.Remove)
	v1.PUT("/gallery/:person_id/rename", galleryH.Rename)
	v1.DELETE("/gallery", galleryH.Clear)

	statsH := handlers.NewStatsHandler(cfg.DB)
	v1.GET("/groups/:id/stats", statsH.Get)

	return r
}
