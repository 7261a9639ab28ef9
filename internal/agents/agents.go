// Package agents holds the shared plumbing of the agent bodies: their
// dependency bundle, payload decoding and the embedded prompt templates.
// The bodies themselves live in the per-role subpackages.
package agents

import (
	"encoding/json"
	"fmt"

	"github.com/tradecrew-ai/tradecrew/internal/broker"
	"github.com/tradecrew-ai/tradecrew/internal/dataflows"
	"github.com/tradecrew-ai/tradecrew/internal/llm"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// Deps bundles everything an agent body may touch. Broker may be nil when
// no credentials are configured; the portfolio manager degrades to a
// conservative placeholder context in that case.
type Deps struct {
	Store  *store.Store
	LLM    llm.Provider
	Data   *dataflows.Service
	Broker broker.Reader
	Debate *workflow.DebateEngine
	Log    *logging.Logger
}

// DecodeTask coerces an invocation payload into a Task. In-process
// dispatch hands the struct through as-is; the HTTP path delivers raw JSON.
func DecodeTask(payload any) (workflow.Task, error) {
	switch p := payload.(type) {
	case workflow.Task:
		return p, nil
	case *workflow.Task:
		return *p, nil
	case json.RawMessage:
		var t workflow.Task
		if err := json.Unmarshal(p, &t); err != nil {
			return workflow.Task{}, fmt.Errorf("decoding task payload: %w", err)
		}
		return t, nil
	case []byte:
		var t workflow.Task
		if err := json.Unmarshal(p, &t); err != nil {
			return workflow.Task{}, fmt.Errorf("decoding task payload: %w", err)
		}
		return t, nil
	default:
		return workflow.Task{}, fmt.Errorf("unsupported task payload type %T", payload)
	}
}

// ReportPayload is the insight shape every agent persists: the full text
// of its reasoning output.
type ReportPayload struct {
	Report string `json:"report"`
}

// Report extracts one agent's report text from a ListInsights result.
// Missing or malformed entries read as empty, so downstream prompts
// simply omit the section.
func Report(insights map[string]json.RawMessage, agent string) string {
	raw, ok := insights[agent]
	if !ok {
		return ""
	}
	var p ReportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	return p.Report
}
