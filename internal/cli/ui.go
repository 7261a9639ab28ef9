package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	phaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	decisionBoxStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#10B981")).
				Padding(1, 2).
				Width(76)

	buyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	sellStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	holdStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))

	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	errStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
)

func renderBanner(ticker, runID string) string {
	return bannerStyle.Render(fmt.Sprintf("tradecrew · %s", ticker)) +
		"\n" + dimStyle.Render("run "+runID)
}

func renderPhase(p workflow.Phase) string {
	return phaseStyle.Render("▶ " + string(p))
}

func actionStyle(action string) lipgloss.Style {
	switch action {
	case "BUY":
		return buyStyle
	case "SELL":
		return sellStyle
	default:
		return holdStyle
	}
}

// renderDecision draws the settled run: the final action, confidence and
// the portfolio manager's reasoning, or the failure reason.
func renderDecision(run *workflow.Run, insights map[string]json.RawMessage) string {
	if run.Status != workflow.RunCompleted {
		body := errStyle.Render(fmt.Sprintf("run %s: %s", run.Status, run.Reason))
		return decisionBoxStyle.BorderForeground(lipgloss.Color("#EF4444")).Render(body)
	}

	action := run.Decision
	if action == "" {
		action = "HOLD"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", run.Ticker, actionStyle(action).Render(action))
	fmt.Fprintf(&b, "confidence %.0f%%\n", run.Confidence*100)

	if raw, ok := insights[workflow.PortfolioManager]; ok {
		var payload struct {
			Decision struct {
				Reasoning string `json:"reasoning"`
			} `json:"decision"`
		}
		if err := json.Unmarshal(raw, &payload); err == nil && payload.Decision.Reasoning != "" {
			b.WriteString("\n" + payload.Decision.Reasoning)
		}
	}

	return decisionBoxStyle.Render(b.String())
}

func renderRunList(runs []workflow.Run) string {
	if len(runs) == 0 {
		return dimStyle.Render("no runs yet")
	}

	var b strings.Builder
	for _, r := range runs {
		line := fmt.Sprintf("%-36s  %-6s  %-9s  %-10s", r.ID, r.Ticker, r.Status, r.CurrentPhase)
		if r.Decision != "" {
			line += "  " + actionStyle(r.Decision).Render(r.Decision)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRunStatus(run *workflow.Run, steps []workflow.Step) string {
	var b strings.Builder
	b.WriteString(renderBanner(run.Ticker, run.ID) + "\n")
	fmt.Fprintf(&b, "status %s, phase %s\n\n", run.Status, run.CurrentPhase)

	for _, s := range steps {
		marker := dimStyle.Render("·")
		switch s.Status {
		case workflow.StepRunning:
			marker = holdStyle.Render("▶")
		case workflow.StepCompleted:
			marker = buyStyle.Render("✓")
		case workflow.StepError:
			marker = errStyle.Render("✗")
		}
		fmt.Fprintf(&b, "%s %-10s %-22s", marker, s.Phase, s.Agent)
		if s.Error != "" {
			b.WriteString("  " + dimStyle.Render(s.Error))
		}
		b.WriteString("\n")
	}

	if run.Decision != "" {
		fmt.Fprintf(&b, "\ndecision %s (%.0f%%)\n", actionStyle(run.Decision).Render(run.Decision), run.Confidence*100)
	}
	return strings.TrimRight(b.String(), "\n")
}
