package router

import (
	"net/http"

	"github.com/cuongbtq/turnover-dispatch/internal/api/handler"
	"github.com/cuongbtq/turnover-dispatch/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "dispatch-api-service"
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	})

	// Readiness probe, fails while the database is unreachable
	r.GET("/ready", func(c *gin.Context) {
		if deps.Database != nil {
			if err := deps.Database.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	offerHandler := handler.NewOfferHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	bookingHandler := handler.NewBookingHandler(deps)
	auditHandler := handler.NewAuditHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(ActorMiddleware())
	{
		offers := v1.Group("/offers")
		{
			// GET /api/v1/offers?staff_id= - Open offers visible to a staff member
			offers.GET("", offerHandler.ListOffers)

			// GET /api/v1/offers/:offer_id - Get offer details
			offers.GET("/:offer_id", offerHandler.GetOffer)

			// POST /api/v1/offers/:offer_id/accept - First accept wins
			offers.POST("/:offer_id/accept", offerHandler.AcceptOffer)

			// DELETE /api/v1/offers/:offer_id - Admin cancel
			offers.DELETE("/:offer_id", offerHandler.CancelOffer)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// POST /api/v1/jobs/status - Status change or admin override
			jobs.POST("/status", jobHandler.UpdateJobStatus)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/offers - Admin re-offer from attempt 1
			jobs.POST("/:job_id/offers", jobHandler.ReofferJob)
		}

		// POST /api/v1/bookings/jobs - Create jobs for a confirmed booking
		v1.POST("/bookings/jobs", bookingHandler.CreateJobs)

		// GET /api/v1/audit - Query the audit trail
		v1.GET("/audit", auditHandler.QueryEvents)
	}

	return r
}
