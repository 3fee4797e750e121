package server

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bobmcallan/smartfund/internal/models"
	"github.com/bobmcallan/smartfund/internal/services/analysis"
)

// maxBatchCodes bounds one /api/estimate/batch request.
const maxBatchCodes = 200

// --- Fund data handlers ---

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		WriteJSON(w, http.StatusOK, []models.FundListing{})
		return
	}

	results, err := s.app.FundService.Search(r.Context(), key)
	if err != nil {
		WriteError(w, http.StatusBadGateway, "Search unavailable: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, results)
}

func (s *Server) handleEstimateBatch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Codes []string `json:"codes"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Codes) > maxBatchCodes {
		WriteError(w, http.StatusBadRequest, "Too many codes in one batch")
		return
	}

	WriteJSON(w, http.StatusOK, s.app.QuoteService.GetBatchEstimates(r.Context(), req.Codes))
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	code := PathParam(r, "/api/estimate/", "")
	if code == "" {
		WriteError(w, http.StatusBadRequest, "fund code is required in path")
		return
	}

	est, err := s.app.QuoteService.GetEstimate(r.Context(), code)
	if err != nil {
		WriteError(w, http.StatusBadGateway, "Estimate unavailable: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, est)
}

func (s *Server) handleFundDetail(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	code := PathParam(r, "/api/fund/", "")
	if code == "" {
		WriteError(w, http.StatusBadRequest, "fund code is required in path")
		return
	}

	detail, err := s.app.FundService.Detail(r.Context(), code)
	if err != nil {
		WriteError(w, http.StatusBadGateway, "Fund detail unavailable: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	code := PathParam(r, "/api/history/", "")
	if code == "" {
		WriteError(w, http.StatusBadRequest, "fund code is required in path")
		return
	}

	points, err := s.app.FundService.History(r.Context(), code)
	if err != nil {
		WriteError(w, http.StatusBadGateway, "History unavailable: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, points)
}

// handleMarket returns index quotes for ?codes=a,b or, when absent, the
// indices configured in the portfolio state.
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	var codes []string
	for _, c := range strings.Split(r.URL.Query().Get("codes"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	if len(codes) == 0 {
		if state, err := s.app.PortfolioService.GetState(r.Context()); err == nil {
			codes = state.MarketConfig
		}
	}

	quotes, err := s.app.FundService.Market(r.Context(), codes)
	if err != nil {
		WriteError(w, http.StatusBadGateway, "Market data unavailable: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, quotes)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if utf8.RuneCountInString(req.Prompt) > analysis.MaxPromptLength {
		WriteError(w, http.StatusRequestEntityTooLarge, "Prompt too long")
		return
	}

	text, err := s.app.AnalysisService.Analyze(r.Context(), req.Prompt)
	if err != nil {
		WriteServiceError(w, err, "Analysis error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"result": text})
}
