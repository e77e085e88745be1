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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/uniexam/booking-api/api/swagger"
	"github.com/uniexam/booking-api/internal/external"
	"github.com/uniexam/booking-api/internal/handler"
	"github.com/uniexam/booking-api/internal/middleware"
	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/internal/repository"
	"github.com/uniexam/booking-api/internal/service"
	"github.com/uniexam/booking-api/pkg/cache"
	"github.com/uniexam/booking-api/pkg/config"
	"github.com/uniexam/booking-api/pkg/database"
	"github.com/uniexam/booking-api/pkg/logger"
	corsmiddleware "github.com/uniexam/booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/uniexam/booking-api/pkg/middleware/requestid"
)

// externalGateway matches the federated removal dependency of the
// reservation service.
type externalGateway interface {
	RemoveReservation(ctx context.Context, externalRef, externalUserRef string) error
}

// @title Exam Booking API
// @version 0.1.0
// @description Exam room availability and reservation engine
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
		// Redis only backs the settings cache; reads fall through to postgres.
		logr.Sugar().Warnw("redis unavailable, continuing without settings cache", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	examRepo := repository.NewExamRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	machineRepo := repository.NewMachineRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	enrolmentRepo := repository.NewEnrolmentRepository(db)
	maintenanceRepo := repository.NewMaintenanceRepository(db)
	settingsRepo := repository.NewSettingsRepository(db, redisClient, cfg.Booking.SettingsCacheTTL, metrics, logr)

	var gateway externalGateway
	if cfg.External.Enabled {
		gateway = external.NewClient(cfg.External, logr).WithMetrics(metrics)
	} else {
		gateway = external.Noop{}
	}

	mailer := service.NewLogMailer(logr)
	notificationSvc := service.NewNotificationService(mailer, reservationRepo, cfg.Notifications, logr)

	settingsSvc := service.NewSettingsService(settingsRepo, cfg.Booking, logr)
	hoursSvc := service.NewWorkingHoursService(logr)
	machineSvc := service.NewMachineService(machineRepo, roomRepo, logr)
	calendarSvc := service.NewCalendarService(enrolmentRepo, roomRepo, reservationRepo, machineSvc, maintenanceRepo, settingsSvc, hoursSvc, logr)
	reservationSvc := service.NewReservationService(reservationRepo, enrolmentRepo, roomRepo, machineSvc, calendarSvc, gateway, notificationSvc, userRepo, cfg.Booking, logr).WithMetrics(metrics)
	enrolmentSvc := service.NewEnrolmentService(enrolmentRepo, examRepo, logr)
	examSvc := service.NewExamService(examRepo, logr)
	roomSvc := service.NewRoomService(roomRepo, logr)
	maintenanceSvc := service.NewMaintenanceService(maintenanceRepo, logr)
	authSvc := service.NewAuthService(userRepo, enrolmentSvc, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "booking-api",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()
	notificationSvc.StartReminderLoop(ctx, time.Hour)

	authHandler := handler.NewAuthHandler(authSvc)
	examHandler := handler.NewExamHandler(examSvc)
	enrolmentHandler := handler.NewEnrolmentHandler(enrolmentSvc)
	calendarHandler := handler.NewCalendarHandler(calendarSvc, metrics)
	reservationHandler := handler.NewReservationHandler(reservationSvc, metrics)
	roomHandler := handler.NewRoomHandler(roomSvc)
	machineHandler := handler.NewMachineHandler(machineSvc)
	maintenanceHandler := handler.NewMaintenanceHandler(maintenanceSvc)
	settingsHandler := handler.NewSettingsHandler(settingsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	authed := api.Group("", middleware.JWT(authSvc))
	{
		authed.POST("/auth/logout", authHandler.Logout)
		authed.GET("/auth/me", authHandler.Me)

		authed.GET("/exams", examHandler.List)
		authed.GET("/exams/:id", examHandler.Get)

		authed.GET("/enrolments", enrolmentHandler.ListMine)
		authed.POST("/enrolments", enrolmentHandler.Enrol)
		authed.GET("/enrolments/:id", enrolmentHandler.Get)

		authed.GET("/rooms", roomHandler.List)
		authed.GET("/rooms/:id", roomHandler.Get)
		authed.GET("/rooms/:id/slots", calendarHandler.GetSlots)

		authed.POST("/reservations", reservationHandler.Create)
		authed.DELETE("/reservations/:id", reservationHandler.Cancel)

		authed.GET("/maintenance", maintenanceHandler.List)
	}

	admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.POST("/rooms", roomHandler.Create)
		admin.PUT("/rooms/:id", roomHandler.Update)
		admin.PUT("/rooms/:id/working-hours", roomHandler.ReplaceWorkingHours)
		admin.POST("/rooms/:id/exceptions", roomHandler.AddException)
		admin.DELETE("/rooms/:id/exceptions/:exceptionId", roomHandler.DeleteException)
		admin.PUT("/rooms/:id/starting-hours", roomHandler.ReplaceStartingHours)
		admin.GET("/rooms/:id/machines", machineHandler.ListByRoom)

		admin.PUT("/reservations/:id/machine", reservationHandler.Reassign)

		admin.POST("/machines", machineHandler.Create)
		admin.GET("/machines/:id", machineHandler.Get)
		admin.PUT("/machines/:id", machineHandler.Update)
		admin.DELETE("/machines/:id", machineHandler.Archive)
		admin.POST("/machines/:id/reassign", machineHandler.Reassign)

		admin.POST("/maintenance", maintenanceHandler.Create)
		admin.PUT("/maintenance/:id", maintenanceHandler.Update)
		admin.DELETE("/maintenance/:id", maintenanceHandler.Delete)

		admin.GET("/settings/:name", settingsHandler.Get)
		admin.PUT("/settings/:name", settingsHandler.Update)
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
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
