package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/smartfund/internal/models"
	"github.com/bobmcallan/smartfund/internal/services/backtest"
	"github.com/bobmcallan/smartfund/internal/services/portfolio"
)

// --- Tracked funds ---

func (s *Server) handleFundsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		funds, err := s.app.PortfolioService.ListFunds(r.Context())
		if err != nil {
			WriteServiceError(w, err, "Error listing funds")
			return
		}
		WriteJSON(w, http.StatusOK, funds)
	case http.MethodPost:
		var fund models.Fund
		if !DecodeJSON(w, r, &fund) {
			return
		}
		added, err := s.app.PortfolioService.AddFund(r.Context(), fund)
		if err != nil {
			WriteServiceError(w, err, "Error adding fund")
			return
		}
		WriteJSON(w, http.StatusCreated, added)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

// routeFunds dispatches /api/funds/{code} and /api/funds/{code}/transactions.
func (s *Server) routeFunds(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/funds/")
	if path == "" {
		s.handleFundsRoot(w, r)
		return
	}

	if strings.HasSuffix(path, "/transactions") {
		s.handleFundTransaction(w, r, strings.TrimSuffix(path, "/transactions"))
		return
	}
	if strings.Contains(path, "/") {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	code := path
	switch r.Method {
	case http.MethodGet:
		fund, err := s.app.PortfolioService.GetFund(r.Context(), code)
		if err != nil {
			WriteServiceError(w, err, "Error loading fund")
			return
		}
		WriteJSON(w, http.StatusOK, fund)
	case http.MethodDelete:
		if err := s.app.PortfolioService.RemoveFund(r.Context(), code); err != nil {
			WriteServiceError(w, err, "Error removing fund")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) handleFundTransaction(w http.ResponseWriter, r *http.Request, code string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var tx models.Transaction
	if !DecodeJSON(w, r, &tx) {
		return
	}

	fund, err := s.app.PortfolioService.ApplyTransaction(r.Context(), code, tx)
	if err != nil {
		WriteServiceError(w, err, "Error applying transaction")
		return
	}
	WriteJSON(w, http.StatusOK, fund)
}

// --- Portfolio views ---

func (s *Server) handlePortfolioRefresh(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	n, err := s.app.PortfolioService.RefreshQuotes(r.Context())
	if err != nil {
		WriteServiceError(w, err, "Refresh error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed": n,
		"phase":     s.app.QuoteService.Phase(),
	})
}

func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	summary, err := s.app.PortfolioService.Summary(r.Context())
	if err != nil {
		WriteServiceError(w, err, "Summary error")
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// handlePortfolioProfit serves the profit calendar as JSON, or as a bar
// chart with ?format=png.
func (s *Server) handlePortfolioProfit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	view := models.ParseProfitView(r.URL.Query().Get("view"))
	cal, err := s.app.PortfolioService.ProfitCalendar(r.Context(), view)
	if err != nil {
		WriteServiceError(w, err, "Profit calendar error")
		return
	}

	if r.URL.Query().Get("format") == "png" {
		png, err := portfolio.RenderProfitChart(cal)
		if err != nil {
			WriteError(w, http.StatusUnprocessableEntity, "Chart unavailable: "+err.Error())
			return
		}
		WritePNG(w, png)
		return
	}
	WriteJSON(w, http.StatusOK, cal)
}

func (s *Server) handlePortfolioAnalyze(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	summary, err := s.app.PortfolioService.Summary(r.Context())
	if err != nil {
		WriteServiceError(w, err, "Summary error")
		return
	}
	text, err := s.app.AnalysisService.AnalyzePortfolio(r.Context(), summary)
	if err != nil {
		WriteServiceError(w, err, "Analysis error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"result": text})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		state, err := s.app.PortfolioService.GetState(r.Context())
		if err != nil {
			WriteServiceError(w, err, "Error loading groups")
			return
		}
		WriteJSON(w, http.StatusOK, state.Groups)
	case http.MethodPut:
		var groups []models.Group
		if !DecodeJSON(w, r, &groups) {
			return
		}
		if err := s.app.PortfolioService.SetGroups(r.Context(), groups); err != nil {
			WriteServiceError(w, err, "Error saving groups")
			return
		}
		WriteJSON(w, http.StatusOK, groups)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPut)
	}
}

// handleState exports or replaces the whole portfolio document.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		state, err := s.app.PortfolioService.GetState(r.Context())
		if err != nil {
			WriteServiceError(w, err, "Error loading state")
			return
		}
		WriteJSON(w, http.StatusOK, state)
	case http.MethodPut:
		var state models.State
		if !DecodeJSON(w, r, &state) {
			return
		}
		if err := s.app.PortfolioService.ReplaceState(r.Context(), &state); err != nil {
			WriteServiceError(w, err, "Error replacing state")
			return
		}
		saved, err := s.app.PortfolioService.GetState(r.Context())
		if err != nil {
			WriteServiceError(w, err, "Error loading state")
			return
		}
		WriteJSON(w, http.StatusOK, saved)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPut)
	}
}

// --- Backtest ---

// handleBacktest runs a buy-and-hold simulation, returning JSON or, with
// ?format=png, the value curve.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.BacktestRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := s.app.BacktestService.Run(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, "Backtest error")
		return
	}

	if r.URL.Query().Get("format") == "png" {
		png, err := backtest.RenderChart(result)
		if err != nil {
			WriteError(w, http.StatusUnprocessableEntity, "Chart unavailable: "+err.Error())
			return
		}
		WritePNG(w, png)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
