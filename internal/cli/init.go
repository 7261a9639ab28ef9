package cli

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tradecrew-ai/tradecrew/internal/config"
)

// newInitCmd builds the interactive first-run setup: it surveys for the
// credentials and knobs a run needs and writes them to the config file.
func newInitCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive configuration setup",
		RunE: func(*cobra.Command, []string) error {
			var opts []config.ManagerOption
			if *cfgPath != "" {
				opts = append(opts, config.WithConfigPath(*cfgPath))
			}
			m, err := config.NewManager(opts...)
			if err != nil {
				return err
			}

			cfg := m.Get()
			if err := surveyConfig(&cfg); err != nil {
				return err
			}
			if err := m.Update(cfg); err != nil {
				return err
			}

			fmt.Printf("configuration written to %s\n", m.Path())
			return nil
		},
	}
}

func surveyConfig(cfg *config.Config) error {
	questions := []*survey.Question{
		{
			Name: "provider",
			Prompt: &survey.Select{
				Message: "Reasoning provider:",
				Options: []string{"deepseek", "openai"},
				Default: cfg.LLMProvider,
			},
		},
		{
			Name: "model",
			Prompt: &survey.Input{
				Message: "Model name:",
				Default: cfg.LLMModel,
			},
			Validate: survey.Required,
		},
		{
			Name:   "apiKey",
			Prompt: &survey.Password{Message: "Provider API key:"},
		},
		{
			Name: "finnhubKey",
			Prompt: &survey.Input{
				Message: "Finnhub API key (empty to skip news/fundamentals):",
				Default: cfg.FinnhubAPIKey,
			},
		},
		{
			Name: "debateRounds",
			Prompt: &survey.Select{
				Message: "Max debate rounds:",
				Options: []string{"1", "2", "3"},
				Default: fmt.Sprintf("%d", cfg.MaxDebateRounds),
			},
		},
		{
			Name: "online",
			Prompt: &survey.Confirm{
				Message: "Fetch live market data?",
				Default: cfg.OnlineTools,
			},
		},
	}

	answers := struct {
		Provider     string
		Model        string
		APIKey       string
		FinnhubKey   string
		DebateRounds string
		Online       bool
	}{}

	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}

	cfg.LLMProvider = answers.Provider
	cfg.LLMModel = strings.TrimSpace(answers.Model)
	if answers.APIKey != "" {
		cfg.LLMAPIKey = answers.APIKey
	}
	cfg.FinnhubAPIKey = strings.TrimSpace(answers.FinnhubKey)
	cfg.OnlineTools = answers.Online

	var rounds int
	if _, err := fmt.Sscanf(answers.DebateRounds, "%d", &rounds); err == nil && rounds > 0 {
		cfg.MaxDebateRounds = rounds
	}

	askBroker := false
	if err := survey.AskOne(&survey.Confirm{
		Message: "Configure Longport broker credentials (read-only account context)?",
		Default: cfg.LongportAppKey != "",
	}, &askBroker); err != nil {
		return err
	}
	if askBroker {
		brokerQs := []*survey.Question{
			{Name: "appKey", Prompt: &survey.Input{Message: "Longport app key:", Default: cfg.LongportAppKey}},
			{Name: "appSecret", Prompt: &survey.Password{Message: "Longport app secret:"}},
			{Name: "accessToken", Prompt: &survey.Password{Message: "Longport access token:"}},
		}
		broker := struct {
			AppKey      string
			AppSecret   string
			AccessToken string
		}{}
		if err := survey.Ask(brokerQs, &broker); err != nil {
			return err
		}
		cfg.LongportAppKey = strings.TrimSpace(broker.AppKey)
		if broker.AppSecret != "" {
			cfg.LongportAppSecret = broker.AppSecret
		}
		if broker.AccessToken != "" {
			cfg.LongportAccessToken = broker.AccessToken
		}
	}

	return cfg.Validate()
}
