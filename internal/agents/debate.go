package agents

import (
	"fmt"
	"strings"

	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// Transcript renders the debate history in speaking order for prompts,
// matching the labels the researchers argue under.
func Transcript(rounds []workflow.DebateRound) string {
	var b strings.Builder
	for _, r := range rounds {
		if r.BullText != "" {
			fmt.Fprintf(&b, "Bull Analyst: %s\n\n", r.BullText)
		}
		if r.BearText != "" {
			fmt.Fprintf(&b, "Bear Analyst: %s\n\n", r.BearText)
		}
	}
	return strings.TrimSpace(b.String())
}

// KeyPoints pulls the leading bullet lines out of an argument, capped at
// five. Arguments without bullets yield none.
func KeyPoints(text string) []string {
	var points []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			points = append(points, strings.TrimSpace(line[2:]))
			if len(points) == 5 {
				break
			}
		}
	}
	return points
}
