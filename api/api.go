package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/intakehq/intake"
	"github.com/intakehq/intake/api/middleware"
	"github.com/intakehq/intake/config"
)

type Api struct {
	intake *intake.Intake
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/ingest", a.IngestDocument)
	router.POST("/ingest/async", a.SubmitDocument)

	router.GET("/jobs/:id", a.GetJob)
	router.GET("/queues/stats", a.GetQueueStats)

	router.GET("/records", a.GetAllRecords)
	router.GET("/records/:id", a.GetRecord)
	router.GET("/records/:id/attachments", a.GetRecordAttachments)
	router.POST("/records/:id/retry", a.RetryRecord)
	router.POST("/records/retry-failed", a.RetryAllFailed)

	router.GET("/cases", a.GetAllCases)
	router.GET("/cases/:id", a.GetCase)
	router.GET("/cases/:id/records", a.GetCaseRecords)
	router.GET("/cases/:id/attachments", a.GetCaseAttachments)

	return a.router
}

func NewAPI(i *intake.Intake) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("intake-api"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{intake: i, router: r}
}
