// Package app wires configuration, storage, clients and services into the
// shared core used by cmd/smartfund-server.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/smartfund/internal/clients/eastmoney"
	"github.com/bobmcallan/smartfund/internal/clients/gemini"
	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/services/analysis"
	"github.com/bobmcallan/smartfund/internal/services/backtest"
	"github.com/bobmcallan/smartfund/internal/services/fund"
	"github.com/bobmcallan/smartfund/internal/services/portfolio"
	"github.com/bobmcallan/smartfund/internal/services/quote"
	"github.com/bobmcallan/smartfund/internal/storage"
)

// App holds all initialized services, clients, and the MCP server.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Storage          interfaces.StorageManager
	FundClient       interfaces.FundDataClient
	FundService      interfaces.FundService
	QuoteService     interfaces.QuoteService
	PortfolioService interfaces.PortfolioService
	BacktestService  interfaces.BacktestService
	AnalysisService  interfaces.AnalysisService
	MCPServer        *server.MCPServer
	StartupTime      time.Time

	scheduler *Scheduler
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes all services, clients, storage, and the MCP server.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	// Config: provided path, SMARTFUND_CONFIG, then binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("SMARTFUND_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "smartfund.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/smartfund.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative paths against the binary directory
	for _, p := range []*string{&config.Storage.State.Path, &config.Storage.Cache.Path, &config.Logging.FilePath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(binDir, *p)
		}
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a, err := newApp(context.Background(), config, logger, storageManager)
	if err != nil {
		storageManager.Close()
		return nil, err
	}
	a.StartupTime = startupStart

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// newApp builds clients and services on an opened storage manager.
func newApp(ctx context.Context, config *common.Config, logger *common.Logger, storageManager interfaces.StorageManager) (*App, error) {
	kvStorage := storageManager.KeyValueStorage()
	cache := storageManager.CacheStorage()

	fundClient := eastmoney.NewClientFromConfig(config.Clients.Eastmoney, logger)

	var analysisClient interfaces.GeminiClient
	geminiKey, err := common.ResolveAPIKey(ctx, kvStorage, "gemini_api_key", config.Clients.Gemini.APIKey)
	if err != nil {
		logger.Warn().Msg("Gemini API key not configured - AI analysis will be unavailable")
	} else {
		geminiClient, err := gemini.NewClient(ctx, geminiKey,
			gemini.WithLogger(logger),
			gemini.WithModel(config.Clients.Gemini.Model),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize Gemini client")
		} else {
			analysisClient = geminiClient
		}
	}

	fundService := fund.NewServiceFromConfig(config.Quote, fundClient, cache, logger)
	quoteService := quote.NewServiceFromConfig(config.Quote, fundClient, fundService, cache, logger)
	portfolioService := portfolio.NewService(storageManager.StateStore(), quoteService, fundService, logger)
	backtestService := backtest.NewService(fundService, logger)
	analysisService := analysis.NewService(analysisClient, logger)

	mcpServer := server.NewMCPServer(
		"smartfund",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	a := &App{
		Config:           config,
		Logger:           logger,
		Storage:          storageManager,
		FundClient:       fundClient,
		FundService:      fundService,
		QuoteService:     quoteService,
		PortfolioService: portfolioService,
		BacktestService:  backtestService,
		AnalysisService:  analysisService,
		MCPServer:        mcpServer,
		StartupTime:      time.Now(),
	}

	a.registerTools()
	return a, nil
}

// Close releases all resources held by the App.
// Shutdown order: stop scheduler, close storage.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
		a.scheduler = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}

// StartScheduler launches the background refresh jobs. With
// refresh_on_startup the fund list and held-fund quotes are loaded once
// immediately, in the background.
func (a *App) StartScheduler() error {
	s, err := NewScheduler(a.Config.Scheduler, a.PortfolioService, a.FundService, a.Storage, a.Logger)
	if err != nil {
		return err
	}
	a.scheduler = s
	s.Start()

	if a.Config.Scheduler.RefreshOnStartup {
		go func() {
			s.RefreshFundList()
			s.RefreshQuotes()
		}()
	}
	return nil
}

// registerTools registers all MCP tools on the App's MCPServer.
func (a *App) registerTools() {
	s := a.MCPServer
	logger := a.Logger

	s.AddTool(createGetVersionTool(), handleGetVersion())
	s.AddTool(createFundSearchTool(), handleFundSearch(a.FundService, logger))
	s.AddTool(createFundEstimateTool(), handleFundEstimate(a.QuoteService, logger))
	s.AddTool(createPortfolioSummaryTool(), handlePortfolioSummary(a.PortfolioService, logger))
	s.AddTool(createProfitCalendarTool(), handleProfitCalendar(a.PortfolioService, logger))
	s.AddTool(createRunBacktestTool(), handleRunBacktest(a.BacktestService, logger))
	s.AddTool(createAnalyzePortfolioTool(), handleAnalyzePortfolio(a.PortfolioService, a.AnalysisService, logger))
}
