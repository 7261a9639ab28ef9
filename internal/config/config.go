package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ProjectDir   string `json:"project_dir"`
	ResultsDir   string `json:"results_dir"`
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`

	// Reasoning provider
	LLMProvider  string `json:"llm_provider"` // openai, deepseek
	LLMModel     string `json:"llm_model"`
	LLMBaseURL   string `json:"llm_base_url"`
	LLMAPIKey    string `json:"llm_api_key"`
	LLMMaxTokens int    `json:"llm_max_tokens"`

	// Orchestration
	MaxDebateRounds int `json:"max_debate_rounds"`
	AgentMaxRetries int `json:"agent_max_retries"`
	AgentTimeoutMS  int `json:"agent_timeout_ms"`

	// Storage and transport
	DBPath        string `json:"db_path"`
	HTTPAddr      string `json:"http_addr"`
	WorkerBaseURL string `json:"worker_base_url"` // empty: in-process dispatch

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	Debug            bool `json:"debug"`
	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`

	// Dataflows
	OnlineTools   bool   `json:"online_tools"`
	CacheEnabled  bool   `json:"cache_enabled"`
	FinnhubAPIKey string `json:"finnhub_api_key"`

	// Longport broker (read-only account context)
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()

	cfg := &Config{
		ProjectDir:   currentDir,
		ResultsDir:   filepath.Join(currentDir, "results"),
		DataDir:      filepath.Join(currentDir, "data"),
		DataCacheDir: filepath.Join(currentDir, "data", "cache"),

		LLMProvider:  "deepseek",
		LLMModel:     "deepseek-chat",
		LLMMaxTokens: 8192,

		MaxDebateRounds: 2,
		AgentMaxRetries: 3,
		AgentTimeoutMS:  120_000,

		DBPath:   filepath.Join(currentDir, "data", "tradecrew.db"),
		HTTPAddr: ":8420",

		LogLevel:  "info",
		LogFormat: "text",

		EinoDebugPort: 52538,

		OnlineTools:  true,
		CacheEnabled: true,
	}

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.loadFromEnv()

	return cfg
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("PROJECT_DIR"); val != "" {
		c.ProjectDir = val
	}
	if val := os.Getenv("RESULTS_DIR"); val != "" {
		c.ResultsDir = val
	}
	if val := os.Getenv("DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("DATA_CACHE_DIR"); val != "" {
		c.DataCacheDir = val
	}

	if val := os.Getenv("LLM_PROVIDER"); val != "" {
		c.LLMProvider = val
	}
	if val := os.Getenv("LLM_MODEL"); val != "" {
		c.LLMModel = val
	}
	if val := os.Getenv("LLM_BASE_URL"); val != "" {
		c.LLMBaseURL = val
	}
	if val := os.Getenv("LLM_API_KEY"); val != "" {
		c.LLMAPIKey = val
	}
	if val := os.Getenv("DEEPSEEK_API_KEY"); val != "" && c.LLMAPIKey == "" {
		c.LLMAPIKey = val
	}
	if val := os.Getenv("LLM_MAX_TOKENS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.LLMMaxTokens = v
		}
	}

	if val := os.Getenv("MAX_DEBATE_ROUNDS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MaxDebateRounds = v
		}
	}
	if val := os.Getenv("AGENT_MAX_RETRIES"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.AgentMaxRetries = v
		}
	}
	if val := os.Getenv("AGENT_TIMEOUT_MS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.AgentTimeoutMS = v
		}
	}

	if val := os.Getenv("TRADECREW_DB_PATH"); val != "" {
		c.DBPath = val
	}
	if val := os.Getenv("TRADECREW_HTTP_ADDR"); val != "" {
		c.HTTPAddr = val
	}
	if val := os.Getenv("TRADECREW_WORKER_BASE_URL"); val != "" {
		c.WorkerBaseURL = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.LogFormat = val
	}

	if val := os.Getenv("TRADECREW_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
	if val := os.Getenv("EINO_DEBUG_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.EinoDebugEnabled = enabled
		}
	}
	if val := os.Getenv("EINO_DEBUG_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.EinoDebugPort = port
		}
	}

	if val := os.Getenv("ONLINE_TOOLS"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.OnlineTools = enabled
		}
	}
	if val := os.Getenv("CACHE_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.CacheEnabled = enabled
		}
	}
	if val := os.Getenv("TRADECREW_FINNHUB_API_KEY"); val != "" {
		c.FinnhubAPIKey = val
	}

	if val := os.Getenv("LONGPORT_APP_KEY"); val != "" {
		c.LongportAppKey = val
	}
	if val := os.Getenv("LONGPORT_APP_SECRET"); val != "" {
		c.LongportAppSecret = val
	}
	if val := os.Getenv("LONGPORT_ACCESS_TOKEN"); val != "" {
		c.LongportAccessToken = val
	}
}

// AgentTimeout returns the per-agent watchdog budget.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutMS) * time.Millisecond
}

func (c *Config) Validate() error {
	if c.MaxDebateRounds < 1 {
		return fmt.Errorf("max_debate_rounds must be at least 1")
	}
	if c.AgentMaxRetries < 0 {
		return fmt.Errorf("agent_max_retries cannot be negative")
	}
	if c.AgentTimeoutMS <= 0 {
		return fmt.Errorf("agent_timeout_ms must be positive")
	}
	switch c.LLMProvider {
	case "openai", "deepseek":
	default:
		return fmt.Errorf("unsupported llm_provider %q", c.LLMProvider)
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.DataCacheDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
