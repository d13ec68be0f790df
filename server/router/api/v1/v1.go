package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/everlore/recall/internal/profile"
	"github.com/everlore/recall/internal/settings"
	"github.com/everlore/recall/server/internal/observability"
	"github.com/everlore/recall/server/memory"
	"github.com/everlore/recall/server/middleware"
)

// APIV1Service exposes the memory engine over HTTP for hosts that embed
// it as a sidecar rather than a library.
type APIV1Service struct {
	Profile  *profile.Profile
	Settings *settings.Manager
	Memory   *memory.Service
	Metrics  *observability.Metrics

	limiter *middleware.RateLimiter
}

func NewAPIV1Service(profile *profile.Profile, settingsMgr *settings.Manager, memoryService *memory.Service) *APIV1Service {
	return &APIV1Service{
		Profile:  profile,
		Settings: settingsMgr,
		Memory:   memoryService,
		Metrics:  memoryService.Metrics(),
		limiter:  middleware.NewRateLimiter(20, 40),
	}
}

// Register mounts all v1 routes on the given Echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	echoServer.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
	}))

	echoServer.GET("/healthz", s.GetHealthz)

	g := echoServer.Group("/api/v1", s.limiter.Middleware())
	g.POST("/memory/retrieve", s.RetrieveMemories)
	g.POST("/memory/inject", s.InjectMemories)
	g.POST("/memory/save", s.SaveMemory)
	g.GET("/collections/:entity", s.GetCollectionInfo)
	g.DELETE("/collections/:entity", s.DeleteCollection)
	g.GET("/settings", s.GetSettings)
	g.PATCH("/settings", s.UpdateSettings)
	g.GET("/metrics", s.GetMetrics)
}

// GetHealthz returns liveness information.
// GET /healthz
func (s *APIV1Service) GetHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
		"mode":    s.Profile.Mode,
	})
}

// GetMetrics returns a snapshot of the operation counters.
// GET /api/v1/metrics
func (s *APIV1Service) GetMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Metrics.Snapshot())
}
