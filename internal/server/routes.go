package server

import (
	"net/http"
	"runtime"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bobmcallan/smartfund/internal/common"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	// MCP over Streamable HTTP
	if s.app.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(s.app.MCPServer,
			mcpserver.WithStateLess(true),
		))
	}

	// Fund data
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/estimate/batch", s.handleEstimateBatch)
	mux.HandleFunc("/api/estimate/", s.handleEstimate)
	mux.HandleFunc("/api/fund/", s.handleFundDetail)
	mux.HandleFunc("/api/history/", s.handleHistory)
	mux.HandleFunc("/api/market", s.handleMarket)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)

	// Portfolio
	mux.HandleFunc("/api/funds/", s.routeFunds)
	mux.HandleFunc("/api/funds", s.handleFundsRoot)
	mux.HandleFunc("/api/portfolio/refresh", s.handlePortfolioRefresh)
	mux.HandleFunc("/api/portfolio/summary", s.handlePortfolioSummary)
	mux.HandleFunc("/api/portfolio/profit", s.handlePortfolioProfit)
	mux.HandleFunc("/api/portfolio/analyze", s.handlePortfolioAnalyze)
	mux.HandleFunc("/api/groups", s.handleGroups)
	mux.HandleFunc("/api/state", s.handleState)

	// Backtest
	mux.HandleFunc("/api/backtest", s.handleBacktest)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// handleStatus reports the trading phase, tracked fund count and runtime
// figures for the dashboard header.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	funds := 0
	if list, err := s.app.PortfolioService.ListFunds(r.Context()); err == nil {
		funds = len(list)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"phase":       s.app.QuoteService.Phase(),
		"funds":       funds,
		"server_time": common.InChina(time.Now()).Format(time.RFC3339),
		"uptime":      time.Since(s.app.StartupTime).Round(time.Second).String(),
		"version":     common.GetVersion(),
		"goroutines":  runtime.NumGoroutine(),
		"heap_alloc":  mem.HeapAlloc,
	})
}
