package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/collab"
	"github.com/complyflow/policy-workflow/internal/config"
	"github.com/complyflow/policy-workflow/internal/delegation"
	"github.com/complyflow/policy-workflow/internal/escalation"
	httpserver "github.com/complyflow/policy-workflow/internal/interfaces/http"
	"github.com/complyflow/policy-workflow/internal/report"
	"github.com/complyflow/policy-workflow/internal/repository"
	"github.com/complyflow/policy-workflow/internal/template"
	"github.com/complyflow/policy-workflow/internal/worker"
	"github.com/complyflow/policy-workflow/internal/workflow"
	"github.com/complyflow/policy-workflow/pkg/database"
	"github.com/complyflow/policy-workflow/pkg/utils"
)

func main() {
	// Environment overrides from .env, if present
	_ = gotenv.Load()

	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Policy Workflow Service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize repositories
	templateRepo := repository.NewTemplateRepository(db.DB, logger)
	instanceRepo := repository.NewInstanceRepository(db.DB, logger)
	decisionRepo := repository.NewDecisionRepository(db.DB, logger)
	delegationRepo := repository.NewDelegationRepository(db.DB, logger)
	ruleRepo := repository.NewEscalationRuleRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)

	// External collaborator adapters. Standalone defaults; swap these when
	// wiring a real document platform or delivery channel.
	subjectStore := collab.NewMemorySubjectStore()
	dispatcher := collab.NewLogDispatcher(logger)

	// Initialize core services
	catalog := template.NewCatalog(templateRepo, logger)
	registry := delegation.NewRegistry(delegationRepo, logger)

	engine := workflow.NewEngine(
		catalog,
		registry,
		instanceRepo,
		decisionRepo,
		subjectStore,
		dispatcher,
		historyRepo,
		db,
		logger,
	)
	engine.SetDefaultDueInDays(cfg.Workflow.DefaultDueInDays)

	sweeper := escalation.NewSweeper(
		ruleRepo,
		decisionRepo,
		instanceRepo,
		engine,
		dispatcher,
		historyRepo,
		logger,
	)
	sweeper.SetBatchSize(cfg.Escalation.BatchSize)

	exporter := report.NewExporter(instanceRepo, decisionRepo, cfg.Report.OutputDir, logger)

	// Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerManager := worker.NewManager(logger)
	if cfg.Escalation.Enabled {
		workerManager.Register(worker.NewEscalationWorker(sweeper, cfg.Escalation.SweepInterval, logger))
	}
	if err := workerManager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	// HTTP server
	handlers := httpserver.NewHandlers(
		engine,
		catalog,
		registry,
		sweeper,
		exporter,
		templateRepo,
		delegationRepo,
		ruleRepo,
		historyRepo,
		logger,
	)
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down...")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	cancel()
	workerManager.StopAll()
	if err := server.Stop(); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
