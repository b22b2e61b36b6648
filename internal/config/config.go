package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	LLM      LLMConfig      `yaml:"llm"`
	Database DatabaseConfig `yaml:"database"`
	Telegram TelegramConfig `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	External ExternalConfig `yaml:"external"`
	FollowUp FollowUpConfig `yaml:"follow_up"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EngineConfig holds orchestration loop limits and session policy
type EngineConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	WindowCap        int           `yaml:"window_cap"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	DedupWindow      time.Duration `yaml:"dedup_window"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// AggregateDeadline bounds one whole loop run regardless of adapter behavior.
func (e EngineConfig) AggregateDeadline() time.Duration {
	return time.Duration(e.MaxIterations+1) * (e.ReasoningTimeout + e.ToolTimeout)
}

// LLMConfig holds reasoning provider configuration
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// DatabaseConfig selects the gorm backend
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// TelegramConfig holds the Telegram bot front end settings
type TelegramConfig struct {
	BotToken    string `yaml:"bot_token,omitempty"`
	BotTokenEnv string `yaml:"bot_token_env,omitempty"`
	APIBaseURL  string `yaml:"api_base_url"`
}

// WhatsAppConfig holds the WhatsApp Cloud API front end settings
type WhatsAppConfig struct {
	Token         string `yaml:"token,omitempty"`
	TokenEnv      string `yaml:"token_env,omitempty"`
	PhoneNumberID string `yaml:"phone_number_id"`
	VerifyToken   string `yaml:"verify_token,omitempty"`
	APIBaseURL    string `yaml:"api_base_url"`
}

// ExternalConfig holds upstream data-service endpoints used by the tools
type ExternalConfig struct {
	OverpassURL        string `yaml:"overpass_url"`
	NominatimURL       string `yaml:"nominatim_url"`
	NominatimUserAgent string `yaml:"nominatim_user_agent"`
	OutbreakFeedURL    string `yaml:"outbreak_feed_url"`
	PubMedURL          string `yaml:"pubmed_url"`
	SymptomAPIURL      string `yaml:"symptom_api_url"`
}

// FollowUpConfig controls the 24-hour follow-up scheduler
type FollowUpConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Delay         time.Duration `yaml:"delay"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Load reads configuration from a YAML file and resolves env indirections
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.resolveEnv()
	config.SetDefaults()

	return &config, nil
}

func (c *Config) resolveEnv() {
	if c.LLM.APIKeyEnv != "" {
		c.LLM.APIKey = os.Getenv(c.LLM.APIKeyEnv)
	}
	if c.Telegram.BotTokenEnv != "" {
		c.Telegram.BotToken = os.Getenv(c.Telegram.BotTokenEnv)
	}
	if c.WhatsApp.TokenEnv != "" {
		c.WhatsApp.Token = os.Getenv(c.WhatsApp.TokenEnv)
	}
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Engine.MaxIterations == 0 {
		c.Engine.MaxIterations = 8
	}
	if c.Engine.ReasoningTimeout == 0 {
		c.Engine.ReasoningTimeout = 30 * time.Second
	}
	if c.Engine.ToolTimeout == 0 {
		c.Engine.ToolTimeout = 15 * time.Second
	}
	if c.Engine.WindowCap == 0 {
		c.Engine.WindowCap = 10
	}
	if c.Engine.SessionTTL == 0 {
		c.Engine.SessionTTL = 48 * time.Hour
	}
	if c.Engine.DedupWindow == 0 {
		c.Engine.DedupWindow = 10 * time.Minute
	}
	if c.Engine.SweepInterval == 0 {
		c.Engine.SweepInterval = time.Minute
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "medsense.db"
	}

	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.WhatsApp.APIBaseURL == "" {
		c.WhatsApp.APIBaseURL = "https://graph.facebook.com/v19.0"
	}

	if c.External.OverpassURL == "" {
		c.External.OverpassURL = "https://overpass-api.de/api/interpreter"
	}
	if c.External.NominatimURL == "" {
		c.External.NominatimURL = "https://nominatim.openstreetmap.org"
	}
	if c.External.NominatimUserAgent == "" {
		c.External.NominatimUserAgent = "MedSenseAI/1.0"
	}
	if c.External.OutbreakFeedURL == "" {
		c.External.OutbreakFeedURL = "https://www.who.int/api/news/diseaseoutbreaknews"
	}
	if c.External.PubMedURL == "" {
		c.External.PubMedURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if c.External.SymptomAPIURL == "" {
		c.External.SymptomAPIURL = "https://api.endlessmedical.com/v1/dx"
	}

	if c.FollowUp.Delay == 0 {
		c.FollowUp.Delay = 24 * time.Hour
	}
	if c.FollowUp.CheckInterval == 0 {
		c.FollowUp.CheckInterval = 5 * time.Minute
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine max_iterations must be at least 1")
	}
	if c.Engine.WindowCap < 2 {
		return fmt.Errorf("engine window_cap must be at least 2")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Engine.DedupWindow < time.Minute {
		return fmt.Errorf("dedup_window must cover the platform retry interval (min 1m)")
	}
	return nil
}
