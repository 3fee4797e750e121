// Package analysis produces LLM commentary on funds and portfolios.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/models"
)

// MaxPromptLength bounds user prompts in runes
const MaxPromptLength = 8000

// maxSummaryFunds bounds how many positions are described in a portfolio prompt
const maxSummaryFunds = 20

// Service implements AnalysisService
type Service struct {
	gemini interfaces.GeminiClient
	logger *common.Logger
}

// NewService creates a new analysis service. gemini may be nil when no API
// key is configured; every call then fails with models.ErrNotConfigured.
func NewService(gemini interfaces.GeminiClient, logger *common.Logger) *Service {
	return &Service{gemini: gemini, logger: logger}
}

// Analyze sends a free-form prompt to the model
func (s *Service) Analyze(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt is required", models.ErrInvalidRequest)
	}
	if len([]rune(prompt)) > MaxPromptLength {
		return "", fmt.Errorf("%w: prompt exceeds %d characters", models.ErrInvalidRequest, MaxPromptLength)
	}
	return s.generate(ctx, "prompt", prompt)
}

// AnalyzePortfolio builds a prompt from the summary and asks for commentary
func (s *Service) AnalyzePortfolio(ctx context.Context, summary *models.PortfolioSummary) (string, error) {
	if summary == nil || len(summary.Funds) == 0 {
		return "", fmt.Errorf("%w: portfolio has no held funds", models.ErrInvalidRequest)
	}
	return s.generate(ctx, "portfolio", PortfolioPrompt(summary))
}

func (s *Service) generate(ctx context.Context, kind, prompt string) (string, error) {
	if s.gemini == nil {
		return "", fmt.Errorf("analysis: gemini API key %w", models.ErrNotConfigured)
	}

	start := time.Now()
	text, err := s.gemini.GenerateContent(ctx, prompt)
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("Analysis failed")
		return "", fmt.Errorf("analysis failed: %w", err)
	}

	s.logger.Info().
		Str("kind", kind).
		Int("prompt_chars", len(prompt)).
		Int("response_chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("Analysis complete")
	return text, nil
}

// PortfolioPrompt renders a summary as a compact table for the model,
// largest positions first.
func PortfolioPrompt(summary *models.PortfolioSummary) string {
	funds := append([]models.FundSummary(nil), summary.Funds...)
	sort.SliceStable(funds, func(i, j int) bool { return funds[i].MarketValue > funds[j].MarketValue })
	if len(funds) > maxSummaryFunds {
		funds = funds[:maxSummaryFunds]
	}

	var b strings.Builder
	b.WriteString("Review this fund portfolio. Comment on concentration, today's move and overall profit, then list the main risks.\n\n")
	fmt.Fprintf(&b, "Market phase: %s\n", summary.Phase)
	fmt.Fprintf(&b, "Total market value: %.2f\n", summary.TotalMarketValue)
	fmt.Fprintf(&b, "Estimated profit today: %.2f\n", summary.TotalEstimatedProfit)
	fmt.Fprintf(&b, "Holding profit: %.2f\n", summary.TotalHoldingProfit)
	fmt.Fprintf(&b, "Realized profit: %.2f\n\n", summary.TotalRealizedProfit)

	b.WriteString("code | name | market value | weight % | change % today | holding profit\n")
	for _, f := range funds {
		weight := 0.0
		if summary.TotalMarketValue > 0 {
			weight = f.MarketValue / summary.TotalMarketValue * 100
		}
		fmt.Fprintf(&b, "%s | %s | %.2f | %.1f | %.2f | %.2f\n",
			f.Code, f.Name, f.MarketValue, weight, f.ChangePercent, f.HoldingProfit)
	}
	if n := len(summary.Funds) - len(funds); n > 0 {
		fmt.Fprintf(&b, "(%d smaller positions omitted)\n", n)
	}
	return b.String()
}

// Ensure Service implements AnalysisService
var _ interfaces.AnalysisService = (*Service)(nil)
