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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/enrollease/enrollease-api/api/swagger"
	"github.com/enrollease/enrollease-api/internal/enrollment"
	"github.com/enrollease/enrollease-api/internal/handler"
	"github.com/enrollease/enrollease-api/internal/middleware"
	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/internal/repository"
	"github.com/enrollease/enrollease-api/internal/service"
	"github.com/enrollease/enrollease-api/pkg/cache"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	"github.com/enrollease/enrollease-api/pkg/config"
	"github.com/enrollease/enrollease-api/pkg/database"
	"github.com/enrollease/enrollease-api/pkg/jobs"
	"github.com/enrollease/enrollease-api/pkg/logger"
	"github.com/enrollease/enrollease-api/pkg/mail"
	corsmiddleware "github.com/enrollease/enrollease-api/pkg/middleware/cors"
	reqidmiddleware "github.com/enrollease/enrollease-api/pkg/middleware/requestid"
	"github.com/enrollease/enrollease-api/pkg/storage"
	"github.com/enrollease/enrollease-api/pkg/validation"
)

// @title EnrollEase API
// @version 1.0.0
// @description Enrollment journey for applicants and students, and the registrar back office.
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped with error", zap.Error(err))
	}
	logr.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	cal, err := calendarFromConfig(cfg.Enrollment)
	if err != nil {
		return err
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis, "enrollease-api")
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	metrics := service.NewMetricsService()
	validate := validation.New()
	caller := collaborator.NewCaller(collaborator.Options{
		Timeout:     cfg.Collaborator.Timeout,
		MaxAttempts: cfg.Collaborator.MaxAttempts,
		Observer:    metrics,
		Logger:      logr,
	})

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	feed := repository.NewRedisRecordFeed(redisClient, cfg.Feed.ChannelPrefix, logr)
	store := service.NewRecordStore(repository.NewStudentDocumentRepository(db), feed, caller, logr)

	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	objects, err := storage.NewObjectStore(cfg.Storage.Dir, cfg.PublicBaseURL+cfg.APIPrefix, signer)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}

	mailer := mail.NewSender(cfg.Mail.SendGridKey, cfg.AppName, cfg.Mail.From, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled)
	catalog := service.NewCatalogService(repository.NewCatalogRepository(db), cacheSvc, caller, cfg.Catalog.CacheTTL, logr)

	resolver, err := service.NewStudentResolver(store, models.StudentLookupField(cfg.Enrollment.LookupField))
	if err != nil {
		return err
	}

	hub := service.NewProgressHub(store, cal, metrics, logr, service.ProgressControllerOptions{})
	defer hub.Close()

	authSvc := service.NewAuthService(store, cacheRepo, mailer, caller, validate, logr, service.AuthConfig{
		AccessTokenSecret:     cfg.JWT.Secret,
		AccessTokenExpiry:     cfg.JWT.Expiration,
		AnonymousExpiry:       cfg.JWT.AnonymousTTL,
		ResetTokenExpiry:      cfg.JWT.ResetTokenTTL,
		Issuer:                cfg.JWT.Issuer,
		RegistrarEmail:        cfg.Registrar.Email,
		RegistrarPasswordHash: cfg.Registrar.PasswordHash,
		PublicBaseURL:         cfg.PublicBaseURL,
	})

	certificates := service.NewCertificateWorker(store, catalog, objects, nil, caller, metrics, cfg.AppName, logr)
	queue := jobs.NewQueue(service.CertificateJobType, certificates.Handle, jobs.QueueConfig{
		Workers:    cfg.Certificates.Workers,
		MaxRetries: cfg.Certificates.Retries,
		Logger:     logr,
		OnGiveUp:   certificates.GiveUp,
	})
	certificates.Attach(queue)
	queue.Start(ctx)
	defer queue.Stop()

	applications := service.NewApplicationService(store, objects, cacheRepo, catalog, hub, cal, caller, service.ApplicationConfig{
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		AllowedMIMEs:   cfg.Storage.AllowedMIMEs,
		DraftTTL:       cfg.Drafts.TTL,
	}, logr)
	registrar := service.NewRegistrarService(store, resolver, certificates, mailer, caller, validate, cal, cfg.AppName, logr)
	migrations := service.NewMigrationService(store, 0, logr)

	handlers := routeHandlers{
		auth:         handler.NewAuthHandler(authSvc),
		catalog:      handler.NewCatalogHandler(catalog),
		applications: handler.NewApplicationHandler(applications, cfg.Storage.MaxUploadBytes),
		students: handler.NewStudentHandler(handler.StudentServices{
			Progress:        service.NewProgressService(store, cal),
			Hub:             hub,
			Assessment:      service.NewAssessmentService(store, hub, cal, logr),
			PreRegistration: service.NewPreRegistrationService(store, hub, cal, logr),
			Lineup:          service.NewLineupService(store, hub, cal, logr),
			Finance:         service.NewFinanceService(store, catalog, objects, caller, cal, logr),
		}),
		registrar: handler.NewRegistrarHandler(registrar, migrations, catalog),
		files:     handler.NewFileHandler(objects),
		metrics: handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
			"database": db,
			"redis":    handler.PingFunc(cacheRepo.Ping),
		}),
	}

	router := newRouter(cfg, logr, metrics, authSvc, handlers)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logr.Info("shutting down")
		// Open progress streams end when their controllers close.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

type routeHandlers struct {
	auth         *handler.AuthHandler
	catalog      *handler.CatalogHandler
	applications *handler.ApplicationHandler
	students     *handler.StudentHandler
	registrar    *handler.RegistrarHandler
	files        *handler.FileHandler
	metrics      *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, tokens middleware.TokenValidator, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/programs", h.catalog.Programs)
	api.GET("/files/:token", middleware.OptionalJWT(tokens), h.files.Download)

	auth := api.Group("/auth")
	auth.POST("/anonymous", h.auth.Anonymous)
	auth.POST("/login", h.auth.Login)
	auth.POST("/staff/login", h.auth.StaffLogin)
	auth.POST("/password/forgot", h.auth.ForgotPassword)
	auth.POST("/password/reset", h.auth.ResetPassword)
	auth.GET("/me", middleware.JWT(tokens), h.auth.Me)

	applications := api.Group("/applications", middleware.JWT(tokens), middleware.RequireRoles(models.RoleApplicant))
	applications.POST("", h.applications.Start)
	own := applications.Group("/:id", middleware.OwnDocument("id"))
	own.GET("", h.applications.Get)
	own.POST("/documents/:kind", h.applications.UploadDocument)
	own.GET("/draft", h.applications.LoadDraft)
	own.PUT("/draft", h.applications.SaveDraft)
	own.DELETE("/draft", h.applications.ClearDraft)
	own.POST("/submit", h.applications.Submit)

	me := api.Group("/students/me", middleware.JWT(tokens), middleware.RequireRoles(models.RoleApplicant, models.RoleStudent))
	me.GET("", h.students.Me)
	me.GET("/progress", h.students.Progress)
	me.GET("/progress/stream", h.students.ProgressStream)
	me.POST("/appointment", h.students.BookAppointment)
	me.POST("/pre-registration", h.students.SubmitPreRegistration)
	me.GET("/lineup", h.students.Lineup)
	me.POST("/lineup/acknowledge", h.students.AcknowledgeLineup)
	me.GET("/fees", h.students.Fees)
	me.GET("/certificate", h.students.Certificate)

	registrar := api.Group("/registrar", middleware.JWT(tokens), middleware.RequireRoles(models.RoleRegistrar))
	registrar.GET("/students", h.registrar.List)
	registrar.GET("/students/lookup", h.registrar.Lookup)
	registrar.GET("/students/export", h.registrar.ExportRoster)
	registrar.GET("/students/:id", h.registrar.Get)
	registrar.POST("/students/:id/appointment/:decision", h.registrar.DecideAppointment)
	registrar.PUT("/students/:id/schedules", h.registrar.PublishSchedules)
	registrar.POST("/students/:id/payment", h.registrar.MarkPaid)
	registrar.PUT("/students/:id/certificate", h.registrar.AttachCertificate)
	registrar.POST("/students/:id/credentials", h.registrar.IssueCredentials)
	registrar.POST("/maintenance/normalize", h.registrar.Normalize)
	registrar.POST("/maintenance/catalog/invalidate", h.registrar.InvalidateCatalog)

	return r
}

func calendarFromConfig(cfg config.EnrollmentConfig) (service.Calendar, error) {
	loc := time.UTC
	if cfg.CampusTimezone != "" {
		l, err := time.LoadLocation(cfg.CampusTimezone)
		if err != nil {
			return service.Calendar{}, fmt.Errorf("load campus timezone %q: %w", cfg.CampusTimezone, err)
		}
		loc = l
	}
	enrollmentWindow, err := enrollment.ParseWindow(cfg.EnrollmentStart, cfg.EnrollmentEnd, loc)
	if err != nil {
		return service.Calendar{}, fmt.Errorf("enrollment window: %w", err)
	}
	appointmentWindow, err := enrollment.ParseWindow(cfg.AppointmentStart, cfg.AppointmentEnd, loc)
	if err != nil {
		return service.Calendar{}, fmt.Errorf("appointment window: %w", err)
	}
	return service.Calendar{Windows: enrollment.Windows{
		Enrollment:  enrollmentWindow,
		Appointment: appointmentWindow,
		Location:    loc,
	}}, nil
}
