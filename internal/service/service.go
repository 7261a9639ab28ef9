// Package service is the composition root: it builds the store, the
// reasoning provider, the data and broker clients, the coordinator and the
// agent workers, and wires them onto an invoker.
package service

import (
	"context"
	"fmt"

	"github.com/tradecrew-ai/tradecrew/internal/agents"
	"github.com/tradecrew-ai/tradecrew/internal/agents/analysts"
	"github.com/tradecrew-ai/tradecrew/internal/agents/managers"
	"github.com/tradecrew-ai/tradecrew/internal/agents/researchers"
	"github.com/tradecrew-ai/tradecrew/internal/agents/risk"
	"github.com/tradecrew-ai/tradecrew/internal/agents/trader"
	"github.com/tradecrew-ai/tradecrew/internal/broker"
	"github.com/tradecrew-ai/tradecrew/internal/config"
	"github.com/tradecrew-ai/tradecrew/internal/coordinator"
	"github.com/tradecrew-ai/tradecrew/internal/dataflows"
	"github.com/tradecrew-ai/tradecrew/internal/invoker"
	"github.com/tradecrew-ai/tradecrew/internal/llm"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
	"github.com/tradecrew-ai/tradecrew/internal/runtime"
	"github.com/tradecrew-ai/tradecrew/internal/store"
	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

// Service bundles the running application. In-process mode registers every
// worker on a local dispatcher; distributed mode points the invoker at a
// worker fleet over HTTP and the server exposes the worker endpoints.
type Service struct {
	Config      *config.Config
	Store       *store.Store
	Coordinator *coordinator.Coordinator
	Runner      *runtime.Runner
	Deps        agents.Deps
	Dispatcher  *invoker.Dispatcher
	Log         *logging.Logger

	bodies map[string]runtime.AgentFunc
}

// New builds the full application from configuration.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	provider, err := llm.New(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	data := dataflows.NewService(cfg.FinnhubAPIKey, cfg.DataCacheDir, cfg.CacheEnabled, cfg.OnlineTools)

	// The broker is optional context; runs proceed without it.
	var acct broker.Reader
	if client, err := broker.NewClient(cfg); err == nil {
		acct = client
	} else {
		log.Info("broker disabled", "reason", err.Error())
	}

	debate := workflow.NewDebateEngine(cfg.MaxDebateRounds)

	var inv invoker.Invoker
	var disp *invoker.Dispatcher
	if cfg.WorkerBaseURL != "" {
		inv = invoker.NewHTTPInvoker(cfg.WorkerBaseURL, cfg.AgentTimeout())
	} else {
		disp = invoker.NewDispatcher()
		inv = disp
	}

	coord := coordinator.New(st, inv, coordinator.Options{
		MaxDebateRounds: cfg.MaxDebateRounds,
		AgentTimeout:    cfg.AgentTimeout(),
		AgentMaxRetries: cfg.AgentMaxRetries,
	}, log)

	runner := runtime.NewRunner(st, inv, debate, log)

	deps := agents.Deps{
		Store:  st,
		LLM:    provider,
		Data:   data,
		Broker: acct,
		Debate: debate,
		Log:    log,
	}

	svc := &Service{
		Config:      cfg,
		Store:       st,
		Coordinator: coord,
		Runner:      runner,
		Deps:        deps,
		Dispatcher:  disp,
		Log:         log,
		bodies:      Bodies(deps),
	}

	if disp != nil {
		svc.RegisterWorkers(disp)
		disp.Register(invoker.CoordinatorFunction, coord.HandleSignal)
	}
	return svc, nil
}

// Bodies maps every agent to its body. The runner wraps each body with
// claim, watchdog and completion-signal handling.
func Bodies(deps agents.Deps) map[string]runtime.AgentFunc {
	return map[string]runtime.AgentFunc{
		workflow.MarketAnalyst:       analysts.Market(deps),
		workflow.SocialAnalyst:       analysts.Social(deps),
		workflow.NewsAnalyst:         analysts.News(deps),
		workflow.FundamentalsAnalyst: analysts.Fundamentals(deps),
		workflow.BullResearcher:      researchers.Bull(deps),
		workflow.BearResearcher:      researchers.Bear(deps),
		workflow.ResearchManager:     managers.Research(deps),
		workflow.Trader:              trader.New(deps),
		workflow.RiskyAnalyst:        risk.Risky(deps),
		workflow.SafeAnalyst:         risk.Safe(deps),
		workflow.NeutralAnalyst:      risk.Neutral(deps),
		workflow.RiskManager:         managers.Risk(deps),
		workflow.PortfolioManager:    managers.Portfolio(deps),
	}
}

// RegisterWorkers binds every agent worker onto a dispatcher.
func (s *Service) RegisterWorkers(d *invoker.Dispatcher) {
	for agent, body := range s.bodies {
		d.Register(invoker.AgentFunction(agent), func(ctx context.Context, payload any) error {
			task, err := agents.DecodeTask(payload)
			if err != nil {
				return err
			}
			return s.Runner.Run(ctx, task, body)
		})
	}
}

// ApplyConfig feeds reloaded tunables into the running pipeline. Only the
// orchestration knobs are live; credentials and endpoints need a restart.
func (s *Service) ApplyConfig(cfg config.Config) {
	s.Coordinator.Tune(coordinator.Options{
		MaxDebateRounds: cfg.MaxDebateRounds,
		AgentTimeout:    cfg.AgentTimeout(),
		AgentMaxRetries: cfg.AgentMaxRetries,
	})
	s.Deps.Debate.SetRounds(cfg.MaxDebateRounds)
	s.Log.Info("config reloaded",
		"max_debate_rounds", cfg.MaxDebateRounds,
		"agent_max_retries", cfg.AgentMaxRetries)
}

// RunAgent executes one agent invocation, for the HTTP worker endpoints.
func (s *Service) RunAgent(ctx context.Context, agent string, task workflow.Task) error {
	body, ok := s.bodies[agent]
	if !ok {
		return fmt.Errorf("unknown agent %s", agent)
	}
	return s.Runner.Run(ctx, task, body)
}

// Close releases held resources.
func (s *Service) Close() error {
	return s.Store.Close()
}
