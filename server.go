package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"bitbucket.org/mmdatafocus/crm_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("crm-resolution")

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// adminTokenMiddleware guards the internal endpoints with a shared token.
// The resolution surface is operator tooling, not a public API.
func adminTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN"))
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "ADMIN_API_TOKEN is not configured"})
			return
		}
		if c.GetHeader("token") != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetIsAdminInContext(c.Request.Context(), true)
		ctx = utils.SetUsernameInContext(ctx, "admin")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type resolutionRunRequest struct {
	BusinessId string `json:"business_id"`
}

func resolutionRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resolutionRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.BusinessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "resolutionRun")
		defer span.End()

		report, err := workflow.RunResolution(ctx, config.GetDB(), config.GetLogger(), req.BusinessId, "admin-api")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func resolutionRollbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runId := strings.TrimSpace(c.Param("runId"))
		if runId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "resolutionRollback")
		defer span.End()

		report, err := workflow.RollbackAndRerun(ctx, config.GetDB(), config.GetLogger(), runId, "admin-api")
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func listRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := strings.TrimSpace(c.Query("business_id"))
		if businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}
		db := config.GetDB()
		var runs []*models.ResolutionRun
		err := db.WithContext(c.Request.Context()).
			Where("business_id = ?", businessId).
			Order("started_at DESC, id DESC").
			Limit(100).
			Find(&runs).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

func listReviewCasesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := strings.TrimSpace(c.Query("business_id"))
		if businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}
		status := models.ReviewStatus(strings.TrimSpace(c.Query("status")))
		if status != "" && status != models.ReviewStatusPending && status != models.ReviewStatusResolved {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending or resolved"})
			return
		}
		cases, err := workflow.ListReviewCases(c.Request.Context(), businessId, status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"review_cases": cases})
	}
}

type resolveReviewCaseRequest struct {
	CompanyId  int    `json:"company_id"`
	ContactId  int    `json:"contact_id"`
	ResolvedBy int    `json:"resolved_by"`
	Notes      string `json:"notes"`
}

func resolveReviewCaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caseId, err := strconv.Atoi(c.Param("id"))
		if err != nil || caseId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case id"})
			return
		}
		var req resolveReviewCaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.CompanyId <= 0 || req.ContactId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "company_id and contact_id are required"})
			return
		}

		rc, err := workflow.ResolveReviewCase(c.Request.Context(), config.GetDB(), config.GetLogger(), caseId, req.CompanyId, req.ContactId, req.ResolvedBy, req.Notes)
		if err != nil {
			if errors.Is(err, models.ErrorReviewCaseAlreadyResolved) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rc)
	}
}

func entityAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := strings.TrimSpace(c.Query("business_id"))
		if businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}
		if strings.EqualFold(c.Query("format"), "xlsx") {
			data, issues, err := workflow.ExportAuditReport(c.Request.Context(), businessId)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Header("Content-Disposition", "attachment; filename=entity-audit.xlsx")
			c.Header("X-Violation-Count", strconv.Itoa(len(issues)))
			c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
			return
		}
		issues, err := models.ValidateAllEntities(c.Request.Context(), businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"violations": issues})
	}
}

func tightenConstraintsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := workflow.TightenDealConstraints(c.Request.Context(), config.GetDB(), config.GetLogger())
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "tightened"})
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	internal := r.Group("/internal", adminTokenMiddleware())
	internal.POST("/resolution/run", resolutionRunHandler())
	internal.POST("/resolution/rollback/:runId", resolutionRollbackHandler())
	internal.GET("/resolution/runs", listRunsHandler())
	internal.GET("/review-cases", listReviewCasesHandler())
	internal.POST("/review-cases/:id/resolve", resolveReviewCaseHandler())
	internal.GET("/audit/entities", entityAuditHandler())
	internal.POST("/audit/tighten-constraints", tightenConstraintsHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables. Allow disabling migrations
	// on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.ResolutionEventsEnabled() {
		go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("resolution service listening on :", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we drain.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
