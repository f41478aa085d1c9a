package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/rollcall/internal/api/handlers"
	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/auth"
)

type RouterConfig struct {
	APIKey   string
	Checks   map[string]handlers.Check
	Syncer   handlers.Syncer
	Schedule handlers.ScheduleSource
	State    handlers.RecognitionState
	Faces    handlers.FaceEmbedder
	// Voices may be nil when no speaker model is configured.
	Voices   handlers.VoiceEmbedder
	Searcher interface {
		handlers.IndexSearcher
		handlers.IndexInspector
	}
	Builder    handlers.IndexBuilder
	Identities handlers.IdentityReader
	Defaults   handlers.SearchDefaults
	Hub        *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	// Class ids may contain '/', sent escaped in :scope.
	r.UseRawPath = true
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	syncH := handlers.NewSyncHandler(cfg.Syncer)
	v1.POST("/sync", syncH.Trigger)

	scheduleH := handlers.NewScheduleHandler(cfg.Schedule, cfg.State)
	v1.GET("/schedule", scheduleH.Get)

	searchH := handlers.NewSearchHandler(cfg.Faces, cfg.Voices, cfg.Searcher, cfg.Defaults)
	v1.POST("/search", searchH.Search)

	indexH := handlers.NewIndexHandler(cfg.Builder, cfg.Searcher)
	v1.GET("/indexes/:scope", indexH.Get)
	v1.POST("/indexes/:scope/build", indexH.Build)

	if cfg.Identities != nil {
		identityH := handlers.NewIdentityHandler(cfg.Identities)
		v1.GET("/identities/:scope/:id", identityH.Get)
	}

	return r
}
