package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campusreg/enroll-api/api/swagger"
	"github.com/campusreg/enroll-api/internal/handler"
	"github.com/campusreg/enroll-api/internal/identity"
	"github.com/campusreg/enroll-api/internal/mail"
	"github.com/campusreg/enroll-api/internal/middleware"
	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/repository"
	"github.com/campusreg/enroll-api/internal/service"
	"github.com/campusreg/enroll-api/pkg/cache"
	"github.com/campusreg/enroll-api/pkg/config"
	"github.com/campusreg/enroll-api/pkg/database"
	"github.com/campusreg/enroll-api/pkg/logger"
	corsmiddleware "github.com/campusreg/enroll-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campusreg/enroll-api/pkg/middleware/requestid"
)

// @title Enrollment Office API
// @version 1.0.0
// @description Back office for invitations, enrollment decisions and session lifecycle
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	invitationRepo := repository.NewInvitationRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	registrarRepo := repository.NewRegistrarRepository(db)
	programRepo := repository.NewProgramRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	claimRepo := repository.NewClaimRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close()

	identityClient := identity.NewClient(cfg.Identity, logr)
	mailer := mail.NewMailer(cfg.Mail, logr)

	notificationSvc := service.NewNotificationService(mailer, cfg.Mail, cfg.Invitations.AcceptURLBase, logr)
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	invitationSvc := service.NewInvitationService(invitationRepo, studentRepo, registrarRepo, programRepo, identityClient, notificationSvc, cfg.Invitations.TTL, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, sessionRepo, notificationSvc, userRepo, validate, logr)
	sessionSvc := service.NewSessionService(sessionRepo, enrollmentSvc, cacheRepo, cfg.Sessions.ActiveCacheTTL, validate, logr)
	claimSvc := service.NewClaimService(claimRepo, studentRepo, enrollmentRepo, sessionSvc, logr)
	exportSvc := service.NewExportService(enrollmentRepo, sessionRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	invitationHandler := handler.NewInvitationHandler(invitationSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	claimHandler := handler.NewClaimHandler(claimSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.PUT("/password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	api.POST("/invitations/accept", invitationHandler.Accept)

	protected := api.Group("", middleware.JWT(authSvc))

	invitations := protected.Group("/invitations", middleware.RequireRoles(models.RoleAdmin))
	{
		invitations.GET("", invitationHandler.List)
		invitations.POST("", invitationHandler.Create)
		invitations.POST("/:id/resend", invitationHandler.Resend)
		invitations.DELETE("/:id", invitationHandler.Cancel)
	}

	enrollments := protected.Group("/enrollments")
	{
		enrollments.GET("", enrollmentHandler.List)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.POST("", enrollmentHandler.Create)
		enrollments.DELETE("/:id", enrollmentHandler.Cancel)

		decisions := enrollments.Group("", middleware.RequireRoles(models.RoleRegistrar, models.RoleAdmin))
		decisions.PUT("/:id/approve", enrollmentHandler.Approve)
		decisions.PUT("/:id/reject", enrollmentHandler.Reject)
	}

	sessions := protected.Group("/sessions")
	{
		sessions.GET("", sessionHandler.List)
		sessions.GET("/active", sessionHandler.GetActive)
		sessions.GET("/:id", sessionHandler.Get)

		admin := sessions.Group("", middleware.RequireRoles(models.RoleAdmin))
		admin.POST("", sessionHandler.Create)
		admin.PUT("/:id", sessionHandler.Update)
		admin.PUT("/:id/start", sessionHandler.Start)
		admin.PUT("/:id/close", sessionHandler.Close)

		if cfg.Exports.Enabled {
			sessions.GET("/:id/roster", middleware.RequireRoles(models.RoleRegistrar, models.RoleAdmin), exportHandler.SessionRoster)
		}
	}

	claims := protected.Group("/claims", middleware.RequireRoles(models.RoleRegistrar, models.RoleAdmin))
	{
		claims.GET("", claimHandler.ListMine)
		claims.POST("", claimHandler.Claim)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
