package narrative

import (
	"fmt"
	"strings"

	"smartfolio-backend/internal/application/valuation"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

const systemPrompt = `You are a professional financial advisor and portfolio analyst with expertise in investment strategy, risk management, and market analysis. Your role is to provide educational, insightful analysis of investment portfolios.

Guidelines:
- Provide objective, educational analysis focused on diversification, risk, and investment principles
- Use clear, professional language suitable for retail investors
- Focus on portfolio construction principles rather than specific buy/sell recommendations
- Highlight both strengths and potential areas for improvement
- Be encouraging while being realistic about risks
- Keep insights concise but comprehensive

When analyzing portfolios, consider sector diversification and concentration risk, asset allocation, risk-return profile and overall balance.`

// FormatUSD renders an amount as US dollars, e.g. $1,500.00.
func FormatUSD(d decimal.Decimal) string {
	return money.New(d.Shift(2).Round(0).IntPart(), money.USD).Display()
}

func holdingLines(snap valuation.Snapshot) string {
	if len(snap.Holdings) == 0 {
		return "- (no holdings)"
	}
	var b strings.Builder
	for _, h := range snap.Holdings {
		fmt.Fprintf(&b, "- %s: %s shares @ %s = %s (%s)\n",
			h.Symbol, h.Quantity.String(), FormatUSD(h.Price), FormatUSD(h.Value), h.Sector)
	}
	return strings.TrimRight(b.String(), "\n")
}

func analysisPrompt(snap valuation.Snapshot) string {
	return fmt.Sprintf(`Analyze this investment portfolio and provide insights:

Portfolio: %s
Total Value: %s
Cash: %s

Holdings:
%s

Please provide:
1. SUMMARY: A 2-3 sentence overview of the portfolio's characteristics and total value
2. DIVERSIFICATION: Analysis of sector/asset diversification, concentration risks, and balance
3. RISK_ANALYSIS: Assessment of portfolio risk level, volatility factors, and risk management
4. THESIS: A one-liner investment thesis summarizing the portfolio's strategic approach

Format as JSON with keys: summary, diversification, riskAnalysis, thesis`,
		snap.Name, FormatUSD(snap.TotalValue), FormatUSD(snap.Cash), holdingLines(snap))
}

func chatContextPrompt(snap valuation.Snapshot) string {
	return fmt.Sprintf(`You are analyzing this portfolio:
%s - Total Value: %s
Cash: %s

Holdings:
%s

Answer the user's question about this specific portfolio. Be helpful, accurate, and educational.`,
		snap.Name, FormatUSD(snap.TotalValue), FormatUSD(snap.Cash), holdingLines(snap))
}
