package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/pardis-ai/be-cpq-approvals/internal/client"
	"github.com/pardis-ai/be-cpq-approvals/internal/config"
	"github.com/pardis-ai/be-cpq-approvals/internal/database"
	"github.com/pardis-ai/be-cpq-approvals/internal/handler"
	"github.com/pardis-ai/be-cpq-approvals/internal/logger"
	"github.com/pardis-ai/be-cpq-approvals/internal/middleware"
	"github.com/pardis-ai/be-cpq-approvals/internal/natsclient"
	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
	"github.com/pardis-ai/be-cpq-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting CPQ Approvals Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS is optional; without it notifications are disabled.
	nats, err := natsclient.Connect(cfg.NATS.URL, cfg.Service.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nats.Close()
	if nats == nil {
		log.Warn().Msg("NATS_URL not set; notifications disabled")
	}

	// Initialize repositories
	rulesRepo := repository.NewApprovalRulesRepository(db)
	stepsRepo := repository.NewApprovalStepsRepository(db)
	requestsRepo := repository.NewApprovalRequestsRepository(db)
	quoteRepo := repository.NewQuoteRepository(db)
	hoursRepo := repository.NewBusinessHoursRepository(db)
	absenceRepo := repository.NewUserAbsenceRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	auditRepo := repository.NewApprovalAuditRepository(db)

	// Initialize services
	publisher := client.NewNotificationPublisher(nats, log.Logger)
	escalationService := service.NewEscalationService(
		rulesRepo, stepsRepo, requestsRepo, quoteRepo,
		hoursRepo, absenceRepo, directoryRepo, publisher, auditRepo, log,
	)
	monitorService := service.NewSLAMonitorService(
		requestsRepo, directoryRepo, publisher, log,
		cfg.Approval.WarningWindow, cfg.Approval.RenotifyInterval,
	)

	// In-process SLA monitor schedule; an external scheduler can also hit
	// the monitor endpoint.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Approval.MonitorSchedule, func() {
		if _, err := monitorService.Run(ctx); err != nil {
			log.Error().Err(err).Msg("SLA monitor run failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Approval.MonitorSchedule).Msg("Invalid monitor schedule")
	}
	scheduler.Start()
	log.Info().Str("schedule", cfg.Approval.MonitorSchedule).Msg("SLA monitor scheduled")

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(escalationService, monitorService, auditRepo, log)
	adminHandler := handler.NewAdminHandler(rulesRepo, stepsRepo, hoursRepo, absenceRepo, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Approval routes
	mux.HandleFunc("/api/v1/approvals", httpHandler.CreateApproval)
	mux.HandleFunc("/api/v1/approvals/decide", httpHandler.DecideApproval)
	mux.HandleFunc("/api/v1/approvals/monitor/run", httpHandler.RunMonitor)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.ListPending)
	mux.HandleFunc("/api/v1/approvals/chain", httpHandler.GetChain)
	mux.HandleFunc("/api/v1/approvals/audit", httpHandler.GetAuditTrail)

	// Configuration routes
	mux.HandleFunc("/api/v1/approval-rules", adminHandler.Rules)
	mux.HandleFunc("/api/v1/approval-rules/update", adminHandler.UpdateRule)
	mux.HandleFunc("/api/v1/approval-rules/delete", adminHandler.DeleteRule)
	mux.HandleFunc("/api/v1/approval-rules/steps", adminHandler.RuleSteps)
	mux.HandleFunc("/api/v1/business-hours", adminHandler.BusinessHours)
	mux.HandleFunc("/api/v1/absences", adminHandler.Absences)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.WriteTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
