package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/reactagent/internal/agent"
	"github.com/MimeLyc/reactagent/internal/llm"
)

// Config holds all application configuration.
// Values come from, in increasing precedence: defaults, a .env file, the
// process environment, the YAML file named by AGENT_CONFIG_FILE, and options.
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 4000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds (default: 60)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Agent Configuration:
// - AGENT_MAX_ITERATIONS: Model calls per run (default: 10)
// - AGENT_MULTI_TOOL_LOOP: Keep calling tools after the first observation (default: true)
// - AGENT_PREVENT_DUPLICATES: Stop on repeated identical calls (default: true)
// - AGENT_DUPLICATE_THRESHOLD: Consecutive repeats that stop a run (default: 3)
// - AGENT_SHOW_STEPS: Emit intermediate step events (default: false)
// - AGENT_DISPATCH_TIMEOUT: Per tool call bound, Go duration or seconds (default: 30s)
// - AGENT_SYSTEM_PROMPT: System prompt sent with every model call
// - AGENT_CONFIG_FILE: YAML overlay file (optional)
//
// Tools:
// - SEARCH_API_KEY: Tavily API key, enables web_search (optional)
// - SEARCH_API_URL: Tavily API URL (default: https://api.tavily.com/search)
// - SEARCH_RATE_LIMIT: Requests per second (default: 1)
// - SEARCH_CACHE_TTL: Result cache lifetime (default: 10m)
// - SQL_DRIVER: sqlite or pgx (default: sqlite)
// - SQL_DSN: Database for sql_query, enables it (optional)
// - SQL_SCHEMA_HINT: Schema description shown to the model (optional)
// - DOCS_DIR: Text files indexed for document_search at startup (optional)
//
// Memory:
// - MEMORY_RETENTION_CRON: Prune schedule, standard cron (default: 0 3 * * *)
// - MEMORY_MAX_AGE: Entries older than this are pruned (default: 720h)
// - REDIS_ADDR: Mirror memory into Redis when set (optional)
// - REDIS_PASSWORD, REDIS_DB, REDIS_KEY_PREFIX, REDIS_MAX_ITEMS
//
// System:
// - LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default: INFO)
// - DATA_DIR: Directory of the SQLite database (default: /app/data)
// - TRACE_ENABLED: Log an OpenTelemetry span per run and tool call (default: false)
type Config struct {
	LLM    LLMConfig    `yaml:"llm"`
	Agent  AgentConfig  `yaml:"agent"`
	Search SearchConfig `yaml:"search"`
	SQL    SQLConfig    `yaml:"sql"`
	Docs   DocsConfig   `yaml:"docs"`
	Memory MemoryConfig `yaml:"memory"`
	Redis  RedisConfig  `yaml:"redis"`
	System SystemConfig `yaml:"system"`
}

// LLMConfig holds the configuration for LLM client
// Supports any OpenAI-compatible provider (OpenRouter, OpenAI, DeepSeek, etc.)
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     int     `yaml:"timeout"`
	SiteURL     string  `yaml:"site_url"`
	AppName     string  `yaml:"app_name"`
}

// AgentConfig holds the run parameters of the engine
type AgentConfig struct {
	MaxIterations         int           `yaml:"max_iterations"`
	EnableMultiToolLoop   bool          `yaml:"enable_multi_tool_loop"`
	PreventDuplicateCalls bool          `yaml:"prevent_duplicate_calls"`
	DuplicateThreshold    int           `yaml:"duplicate_threshold"`
	ShowIntermediateSteps bool          `yaml:"show_intermediate_steps"`
	DispatchTimeout       time.Duration `yaml:"dispatch_timeout"`
	SystemPrompt          string        `yaml:"system_prompt"`
	FirstTurnNudge        string        `yaml:"first_turn_nudge"`
}

// SearchConfig holds the configuration for web search tool
type SearchConfig struct {
	APIKey    string        `yaml:"api_key"`
	APIURL    string        `yaml:"api_url"`
	RateLimit float64       `yaml:"rate_limit"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// SQLConfig holds the database the sql_query tool reads from
type SQLConfig struct {
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	SchemaHint string `yaml:"schema_hint"`
}

// DocsConfig holds the directory indexed into the document store
type DocsConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

// MemoryConfig holds the retention policy of the memory store
type MemoryConfig struct {
	RetentionCron string        `yaml:"retention_cron"`
	MaxAge        time.Duration `yaml:"max_age"`
}

// RedisConfig holds the optional Redis mirror of the memory store
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	MaxItems  int64  `yaml:"max_items"`
}

type SystemConfig struct {
	LogLevel     string `yaml:"log_level"`
	DataDir      string `yaml:"data_dir"`
	TraceEnabled bool   `yaml:"trace_enabled"`
}

const (
	DefaultSystemPrompt = "You are a helpful assistant. Use the available tools when they help answer the question, " +
		"then answer concisely based on what they returned."

	dbFileName = "reactagent.db"
)

// DBPath returns the SQLite database path under the data directory
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, dbFileName)
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	defaults := agent.DefaultConfig()
	config := &Config{
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Agent: AgentConfig{
			MaxIterations:         getEnvInt("AGENT_MAX_ITERATIONS", defaults.MaxIterations),
			EnableMultiToolLoop:   getEnvBool("AGENT_MULTI_TOOL_LOOP", defaults.EnableMultiToolLoop),
			PreventDuplicateCalls: getEnvBool("AGENT_PREVENT_DUPLICATES", defaults.PreventDuplicateCalls),
			DuplicateThreshold:    getEnvInt("AGENT_DUPLICATE_THRESHOLD", defaults.DuplicateThreshold),
			ShowIntermediateSteps: getEnvBool("AGENT_SHOW_STEPS", defaults.ShowIntermediateSteps),
			DispatchTimeout:       getEnvDuration("AGENT_DISPATCH_TIMEOUT", defaults.DispatchTimeout),
			SystemPrompt:          getEnvString("AGENT_SYSTEM_PROMPT", DefaultSystemPrompt),
			FirstTurnNudge:        getEnvString("AGENT_FIRST_TURN_NUDGE", defaults.FirstTurnNudge),
		},
		Search: SearchConfig{
			APIKey:    getEnvString("SEARCH_API_KEY", ""),
			APIURL:    getEnvString("SEARCH_API_URL", "https://api.tavily.com/search"),
			RateLimit: getEnvFloat("SEARCH_RATE_LIMIT", 1),
			CacheTTL:  getEnvDuration("SEARCH_CACHE_TTL", 10*time.Minute),
		},
		SQL: SQLConfig{
			Driver:     getEnvString("SQL_DRIVER", "sqlite"),
			DSN:        getEnvString("SQL_DSN", ""),
			SchemaHint: getEnvString("SQL_SCHEMA_HINT", ""),
		},
		Docs: DocsConfig{
			Dir: getEnvString("DOCS_DIR", ""),
		},
		Memory: MemoryConfig{
			RetentionCron: getEnvString("MEMORY_RETENTION_CRON", "0 3 * * *"),
			MaxAge:        getEnvDuration("MEMORY_MAX_AGE", 30*24*time.Hour),
		},
		Redis: RedisConfig{
			Addr:      getEnvString("REDIS_ADDR", ""),
			Password:  getEnvString("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnvString("REDIS_KEY_PREFIX", ""),
			MaxItems:  int64(getEnvInt("REDIS_MAX_ITEMS", 1000)),
		},
		System: SystemConfig{
			LogLevel:     getEnvString("LOG_LEVEL", "INFO"),
			DataDir:      getEnvString("DATA_DIR", "/app/data"),
			TraceEnabled: getEnvBool("TRACE_ENABLED", false),
		},
	}

	if path := getEnvString("AGENT_CONFIG_FILE", ""); path != "" {
		if err := config.LoadFile(path); err != nil {
			return nil, err
		}
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if err := c.AgentConfig().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.System.DataDir) == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Memory.RetentionCron != "" {
		if _, err := cron.ParseStandard(c.Memory.RetentionCron); err != nil {
			return fmt.Errorf("invalid MEMORY_RETENTION_CRON: %w", err)
		}
		if c.Memory.MaxAge <= 0 {
			return fmt.Errorf("MEMORY_MAX_AGE must be positive when retention is scheduled")
		}
	}
	if c.SQL.DSN != "" {
		switch strings.ToLower(c.SQL.Driver) {
		case "sqlite", "sqlite3", "pgx", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported SQL_DRIVER %q", c.SQL.Driver)
		}
	}
	return nil
}

// AgentConfig converts the agent section into engine configuration
func (c *Config) AgentConfig() agent.Config {
	return agent.Config{
		MaxIterations:         c.Agent.MaxIterations,
		EnableMultiToolLoop:   c.Agent.EnableMultiToolLoop,
		PreventDuplicateCalls: c.Agent.PreventDuplicateCalls,
		DuplicateThreshold:    c.Agent.DuplicateThreshold,
		ShowIntermediateSteps: c.Agent.ShowIntermediateSteps,
		DispatchTimeout:       c.Agent.DispatchTimeout,
		FirstTurnNudge:        c.Agent.FirstTurnNudge,
	}
}

// LLMConfig converts the llm section into client configuration
func (c *Config) LLMConfig() *llm.Config {
	return &llm.Config{
		APIKey:      c.LLM.APIKey,
		APIURL:      c.LLM.APIURL,
		Model:       c.LLM.Model,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
		SiteURL:     c.LLM.SiteURL,
		AppName:     c.LLM.AppName,
	}
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts a Go duration ("90s") or a plain number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
