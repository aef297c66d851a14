package server

import (
	"context"
	"net/http"
	"time"

	"github.com/autra-ai/marketplace/internal/account"
	"github.com/autra-ai/marketplace/internal/agent"
	"github.com/autra-ai/marketplace/internal/cache"
	"github.com/autra-ai/marketplace/internal/config"
	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/autra-ai/marketplace/internal/ledger"
	"github.com/autra-ai/marketplace/internal/logging"
	"github.com/autra-ai/marketplace/internal/middleware"
	"github.com/autra-ai/marketplace/internal/monitoring"
	"github.com/autra-ai/marketplace/internal/review"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	db               *pgxpool.Pool
	cache            *cache.Redis
	accounts         *account.Service
	agents           *agent.Service
	ledger           *ledger.Service
	reviews          *review.Service
	jwtAuthenticator *middleware.JWTAuthenticator
}

// NewAPIServer creates a new API server instance. A nil cache disables caching.
func NewAPIServer(cfg *config.Config, db *pgxpool.Pool, c *cache.Redis) *APIServer {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		db:               db,
		cache:            c,
		accounts:         account.NewService(db),
		agents:           agent.NewService(db, c),
		ledger:           ledger.NewService(db, c),
		reviews:          review.NewService(db, c),
		jwtAuthenticator: middleware.NewJWTAuthenticator(&cfg.JWT),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/accounts/register", s.handleRegister)

		marketplace := v1.Group("/marketplace")
		{
			marketplace.GET("/categories", s.handleGetCategories)
			marketplace.GET("/featured", s.handleGetFeatured)
			marketplace.GET("/agents", s.handleSearchAgents)
			marketplace.GET("/agents/:slug", s.handleGetPublicAgent)
			marketplace.GET("/agents/:slug/versions", s.handleGetPublicVersions)
			marketplace.GET("/agents/:slug/reviews", s.handleGetAgentReviews)
		}

		authed := v1.Group("")
		authed.Use(s.jwtAuthenticator.JWTAuth())
		{
			authed.GET("/me", s.handleGetMe)
			authed.PUT("/me", s.handleUpdateMe)
			authed.POST("/me/heartbeat", s.handleHeartbeat)

			authed.POST("/transactions", s.handleCreateTransaction)
			authed.GET("/transactions", s.handleListMyTransactions)
			authed.GET("/transactions/:id", s.handleGetMyTransaction)

			limit := s.config.RateLimit
			reviews := authed.Group("/reviews", middleware.RateLimit(s.cache, "review_write", limit.ReviewWrites, limit.Window))
			reviews.POST("", s.handleSubmitReview)
			reviews.PUT("/:id", s.handleUpdateReview)
			reviews.DELETE("/:id", s.handleDeleteReview)
			reviews.POST("/:id/helpful", s.handleMarkHelpful)
			reviews.POST("/:id/report", s.handleReportReview)
		}

		developer := v1.Group("/developer")
		developer.Use(s.jwtAuthenticator.JWTAuth(), middleware.RequireDeveloper())
		{
			developer.POST("/agents", s.handleCreateAgent)
			developer.GET("/agents", s.handleListMyAgents)
			developer.GET("/agents/:id", s.handleGetMyAgent)
			developer.PUT("/agents/:id", s.handleUpdateAgent)
			developer.POST("/agents/:id/versions", s.handleAddVersion)
			developer.GET("/agents/:id/versions", s.handleListMyVersions)
			developer.PUT("/agents/:id/versions/:versionId/stable", s.handleSetVersionStable)
		}

		admin := v1.Group("/admin")
		admin.Use(s.jwtAuthenticator.JWTAuth(), middleware.RequireStaff())
		{
			admin.GET("/metrics", monitoring.GinHandler())

			admin.GET("/users", s.handleAdminSearchUsers)
			admin.POST("/users", s.handleAdminCreateUser)
			admin.GET("/users/:id", s.handleAdminGetUser)
			admin.POST("/users/:id/verify", s.handleAdminVerifyUser)
			admin.POST("/users/:id/deactivate", s.handleAdminDeactivateUser)
			admin.POST("/users/:id/trust-score", s.handleAdminRecomputeTrust)
			admin.POST("/users/:id/profile-completion", s.handleAdminRefreshCompletion)

			admin.GET("/agents", s.handleAdminSearchAgents)
			admin.GET("/agents/:id", s.handleAdminGetAgent)
			admin.PUT("/agents/:id/status", s.handleAdminSetStatus)
			admin.PUT("/agents/:id/trust", s.handleAdminSetTrustAttributes)
			admin.POST("/agents/:id/usage", s.handleAdminRecordUsage)
			admin.POST("/agents/:id/rating", s.handleAdminRecomputeRating)

			admin.GET("/transactions", s.handleAdminListTransactions)
			admin.GET("/transactions/:id", s.handleAdminGetTransaction)
			admin.POST("/transactions/:id/transition", s.handleAdminTransition)

			admin.GET("/reviews", s.handleAdminSearchReviews)
			admin.GET("/reviews/:id", s.handleAdminGetReview)
		}
	}
}

func (s *APIServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	database := "up"
	if s.db == nil || s.db.Ping(ctx) != nil {
		status, code, database = "unhealthy", http.StatusServiceUnavailable, "down"
	}

	c.JSON(code, gin.H{
		"status":   status,
		"service":  s.config.Server.Name,
		"database": database,
		"cache":    s.cache.State(),
	})
}

// knownErrors maps service sentinels onto API errors
var knownErrors = map[error]*apierrors.APIError{
	account.ErrUserNotFound:       apierrors.ErrUserNotFoundError,
	agent.ErrAgentNotFound:        apierrors.ErrAgentNotFoundError,
	agent.ErrVersionNotFound:      apierrors.ErrVersionNotFoundError,
	agent.ErrAgentNotOwned:        apierrors.ErrNotOwnerError,
	agent.ErrNotDeveloper:         apierrors.ErrForbiddenError,
	ledger.ErrTransactionNotFound: apierrors.ErrTransactionNotFoundError,
	ledger.ErrNotParticipant:      apierrors.ErrNotOwnerError,
	review.ErrReviewNotFound:      apierrors.ErrReviewNotFoundError,
	review.ErrNotReviewer:         apierrors.ErrNotOwnerError,
}

// respondError converts err into the standard error envelope. Unmapped errors
// are logged and reported as 500.
func respondError(c *gin.Context, err error) {
	apiErr := apierrors.FromError(err, knownErrors)
	if apiErr.HTTPStatus >= http.StatusInternalServerError {
		logging.LogError(err, middleware.GetRequestIDFromContext(c), "api", c.FullPath())
	}
	middleware.RespondWithError(c, apiErr)
}

func respondBindError(c *gin.Context, err error) {
	middleware.RespondWithError(c, apierrors.NewValidationError(err.Error()))
}

// uuidParam parses a path parameter, answering 400 when malformed
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		middleware.RespondWithError(c, apierrors.NewInvalidRequestError("Invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}
