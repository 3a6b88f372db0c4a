// Package narrative talks to hosted language models that write portfolio analysis. Errors from a
// Narrator wrap domain.ErrUpstreamUnavailable when the call failed and domain.ErrMalformedNarrative
// when it returned something unusable.
package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"smartfolio-backend/internal/application/valuation"
	"smartfolio-backend/internal/domain"
)

type Analysis struct {
	Summary         string `json:"summary"`
	Diversification string `json:"diversification"`
	RiskAnalysis    string `json:"riskAnalysis"`
	Thesis          string `json:"thesis"`
}

// Chat roles accepted in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Narrator interface {
	Name() string
	Analyze(ctx context.Context, snap valuation.Snapshot) (Analysis, error)
	Chat(ctx context.Context, snap valuation.Snapshot, question string, history []Turn) (string, error)
}

// ParseAnalysis extracts the analysis object from model output. Code fences and text around the
// JSON object are tolerated; a missing object or an empty field is ErrMalformedNarrative.
func ParseAnalysis(text string) (Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Analysis{}, fmt.Errorf("%w: no JSON object in response", domain.ErrMalformedNarrative)
	}
	var a Analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", domain.ErrMalformedNarrative, err)
	}
	a.Summary = strings.TrimSpace(a.Summary)
	a.Diversification = strings.TrimSpace(a.Diversification)
	a.RiskAnalysis = strings.TrimSpace(a.RiskAnalysis)
	a.Thesis = strings.TrimSpace(a.Thesis)
	if a.Summary == "" || a.Diversification == "" || a.RiskAnalysis == "" || a.Thesis == "" {
		return Analysis{}, fmt.Errorf("%w: missing analysis fields", domain.ErrMalformedNarrative)
	}
	return a, nil
}

// ValidHistory drops turns with unknown roles or no content and keeps the most recent max turns.
func ValidHistory(history []Turn, max int) []Turn {
	out := make([]Turn, 0, len(history))
	for _, t := range history {
		if (t.Role != RoleUser && t.Role != RoleAssistant) || strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, t)
	}
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// Unavailable is the narrator used when no provider is configured. Every call fails as upstream
// unavailable, so insights take the fallback path.
type Unavailable struct{}

func (Unavailable) Name() string { return "none" }

func (Unavailable) Analyze(ctx context.Context, snap valuation.Snapshot) (Analysis, error) {
	return Analysis{}, fmt.Errorf("%w: no narrative provider configured", domain.ErrUpstreamUnavailable)
}

func (Unavailable) Chat(ctx context.Context, snap valuation.Snapshot, question string, history []Turn) (string, error) {
	return "", fmt.Errorf("%w: no narrative provider configured", domain.ErrUpstreamUnavailable)
}
