package container

import (
	"context"
	"fmt"

	"wearsurvey/adapters/excel"
	"wearsurvey/adapters/postgres"
	"wearsurvey/adapters/stats/clmm"
	"wearsurvey/app"
	"wearsurvey/domain/model"
	"wearsurvey/internal"
	"wearsurvey/internal/api"
	"wearsurvey/internal/config"
	"wearsurvey/internal/migration"
	"wearsurvey/ports"

	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	// Analysis
	Fitter   *clmm.Fitter
	Reader   ports.SurveyReader
	Analysis *app.AnalysisService

	// Persistence; nil without a database
	AnalysisRepo ports.AnalysisRepository
	RunHandler   *api.RunHandler
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logger := internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
	c := &Container{
		Config: cfg,
		Logger: logger,
	}
	if err := c.initAnalysis(); err != nil {
		return nil, fmt.Errorf("failed to initialize analysis components: %w", err)
	}
	return c, nil
}

// FitterConfig maps the fit section of the configuration onto the fitter.
func FitterConfig(cfg config.FitConfig) (clmm.Config, error) {
	fc := clmm.DefaultConfig()
	fc.QuadraturePoints = cfg.QuadraturePoints
	fc.MaxIterations = cfg.MaxIterations
	fc.GradientTolerance = cfg.GradientTolerance

	method, err := clmm.ParseMethod(cfg.Optimizer)
	if err != nil {
		return fc, err
	}
	fc.Method = method
	link, err := model.ParseLink(cfg.Link)
	if err != nil {
		return fc, err
	}
	fc.Link = link
	return fc, fc.Validate()
}

func (c *Container) initAnalysis() error {
	fc, err := FitterConfig(c.Config.Fit)
	if err != nil {
		return err
	}
	c.Fitter, err = clmm.NewFitter(fc, c.Logger)
	if err != nil {
		return err
	}
	c.Reader = excel.NewSurveyReader("", c.Logger)
	c.Analysis = app.NewAnalysisService(c.Fitter, app.ServiceOptions{
		Workers:        c.Config.Analysis.Workers,
		FitterSettings: fc.Settings(),
		CodeVersion:    c.Config.Analysis.CodeVersion,
	}, c.Logger)
	return nil
}

// InitWithDatabase initializes components that require database access
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}

	c.DB = db

	// Test database connection
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	c.AnalysisRepo = postgres.NewAnalysisRepository(db)
	c.RunHandler = api.NewRunHandler(c.AnalysisRepo, c.Logger)

	c.Logger.Info("Container initialized successfully with database connection")
	return nil
}

// Connect opens the configured database and initializes persistence. It is
// a no-op when no DATABASE_URL is configured.
func (c *Container) Connect(ctx context.Context) error {
	if !c.Config.Database.Enabled() {
		c.Logger.Info("no DATABASE_URL configured, runs will not be persisted")
		return nil
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", c.Config.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := c.InitWithDatabase(ctx, db); err != nil {
		db.Close()
		return err
	}
	return nil
}

// Shutdown gracefully shuts down all components
func (c *Container) Shutdown(ctx context.Context) error {
	// Close database connection
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
