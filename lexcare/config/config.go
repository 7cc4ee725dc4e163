package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/lexcare/lexcare"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Store     StoreConfig     `mapstructure:"store"`
	Inference InferenceConfig `mapstructure:"inference"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Turn      TurnConfig      `mapstructure:"turn"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig stores process-wide settings.
type AppConfig struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`  // "debug", "info", "warn", "error"
	LogFormat string `mapstructure:"log_format"` // "json", "console"
}

// StoreConfig stores database connection details.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"` // "libsql", "sqlite"
	DSN             string        `mapstructure:"dsn"`
	DataDir         string        `mapstructure:"data_dir"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	TurnTTL         time.Duration `mapstructure:"turn_ttl"`      // lifetime of persisted turn records
	ContextTurns    int           `mapstructure:"context_turns"` // prior turns loaded into context
}

// InferenceConfig stores inference service settings.
type InferenceConfig struct {
	Provider    string        `mapstructure:"provider"` // "openai", "anthropic", "none"
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"` // applied to every call

	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`
}

// CacheConfig stores turn cache settings.
type CacheConfig struct {
	Capacity             int `mapstructure:"capacity"`            // match results
	CheckpointCapacity   int `mapstructure:"checkpoint_capacity"` // conversations, kept apart from match results
	CheckpointTTLSeconds int `mapstructure:"checkpoint_ttl_seconds"`
}

// TurnConfig stores orchestration thresholds and limits.
type TurnConfig struct {
	CrisisThreshold     float64       `mapstructure:"crisis_threshold"`      // distress at or above blocks matching
	SafetyHoldThreshold float64       `mapstructure:"safety_hold_threshold"` // classifier score that triggers a hold
	MaxSteps            int           `mapstructure:"max_steps"`             // phase transitions per turn
	MaxIntakeQuestions  int           `mapstructure:"max_intake_questions"`  // per specialist, across turns
	TimelineSize        int           `mapstructure:"timeline_size"`
	AllianceHistorySize int           `mapstructure:"alliance_history_size"`
	UnitTimeout         time.Duration `mapstructure:"unit_timeout"`
	ContextBudget       int           `mapstructure:"context_budget"` // tokens
	ContextMaxSnippets  int           `mapstructure:"context_max_snippets"`
	SafetyMessage       string        `mapstructure:"safety_message"`
	FallbackMessage     string        `mapstructure:"fallback_message"`
	CrisisPhrases       []string      `mapstructure:"crisis_phrases"`
	ServiceKeywords     []string      `mapstructure:"service_keywords"`
}

// WeightsConfig holds base weights for the scoring model.
type WeightsConfig struct {
	Category     float64 `mapstructure:"category"`
	Location     float64 `mapstructure:"location"`
	Budget       float64 `mapstructure:"budget"`
	Availability float64 `mapstructure:"availability"`
	Quality      float64 `mapstructure:"quality"`
	Reputation   float64 `mapstructure:"reputation"`
	Style        float64 `mapstructure:"style"`
	Cultural     float64 `mapstructure:"cultural"`
}

// AdjustmentConfig holds additive bonus and penalty amounts.
type AdjustmentConfig struct {
	NeighborhoodMatch float64 `mapstructure:"neighborhood_match"`
	PriorPositive     float64 `mapstructure:"prior_positive"`
	LanguageMatch     float64 `mapstructure:"language_match"`
	Recognition       float64 `mapstructure:"recognition"`
	PriorNegative     float64 `mapstructure:"prior_negative"`
	Disciplinary      float64 `mapstructure:"disciplinary"`
	BudgetMismatch    float64 `mapstructure:"budget_mismatch"`
	UrgencyMismatch   float64 `mapstructure:"urgency_mismatch"`
	GenderMismatch    float64 `mapstructure:"gender_mismatch"`
}

// MatchingConfig stores matching engine settings.
type MatchingConfig struct {
	PageSize        int  `mapstructure:"page_size"`
	StrategySize    int  `mapstructure:"strategy_size"` // hits requested per strategy
	CacheEnabled    bool `mapstructure:"cache_enabled"`
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"`
	EnrichTopK      int  `mapstructure:"enrich_top_k"`
	Explain         bool `mapstructure:"explain"`
	Concurrency     int  `mapstructure:"concurrency"`

	Weights     WeightsConfig    `mapstructure:"weights"`
	Adjustments AdjustmentConfig `mapstructure:"adjustments"`

	// Contextual weight adjustment
	HighDistress               float64 `mapstructure:"high_distress"`
	HighEngagement             float64 `mapstructure:"high_engagement"`
	DistressPreferenceBoost    float64 `mapstructure:"distress_preference_boost"`
	DistressQualityDamp        float64 `mapstructure:"distress_quality_damp"`
	EngagementPreferenceBoost  float64 `mapstructure:"engagement_preference_boost"`
	ImmediateAvailabilityBoost float64 `mapstructure:"immediate_availability_boost"`

	// Preference extraction
	BudgetTierRates       []float64 `mapstructure:"budget_tier_rates"` // hourly ceilings for $, $$, $$$
	UrgencyImmediateHours int       `mapstructure:"urgency_immediate_hours"`
	UrgencySoonHours      int       `mapstructure:"urgency_soon_hours"`
	FastResponseHours     float64   `mapstructure:"fast_response_hours"`
}

// ServerConfig stores transport settings.
type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	PurgeSchedule string        `mapstructure:"purge_schedule"` // cron spec
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. inference.api_key becomes INFERENCE_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment are used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", internal.DefaultAppName)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Store defaults
	v.SetDefault("store.driver", internal.DefaultDatabaseType)
	v.SetDefault("store.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("store.data_dir", internal.DefaultDatabaseDir)
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", "1h")
	v.SetDefault("store.turn_ttl", fmt.Sprintf("%dh", internal.DefaultTurnTTLHours))
	v.SetDefault("store.context_turns", 6)

	// Inference defaults
	v.SetDefault("inference.provider", "none")
	v.SetDefault("inference.model", "gpt-4o-mini")
	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.base_url", "")
	v.SetDefault("inference.temperature", 0.3)
	v.SetDefault("inference.max_tokens", 600)
	v.SetDefault("inference.timeout", "8s")
	v.SetDefault("inference.rate_limit_enabled", true)
	v.SetDefault("inference.rate_limit_capacity", 20)
	v.SetDefault("inference.rate_limit_refill_rate", "500ms")

	// Cache defaults
	v.SetDefault("cache.capacity", 2000)
	v.SetDefault("cache.checkpoint_capacity", 10000)
	v.SetDefault("cache.checkpoint_ttl_seconds", internal.DefaultCheckpointTTLSeconds)

	// Turn defaults
	v.SetDefault("turn.crisis_threshold", 7.0)
	v.SetDefault("turn.safety_hold_threshold", 8.0)
	v.SetDefault("turn.max_steps", 12)
	v.SetDefault("turn.max_intake_questions", 4)
	v.SetDefault("turn.timeline_size", 20)
	v.SetDefault("turn.alliance_history_size", 20)
	v.SetDefault("turn.unit_timeout", "10s")
	v.SetDefault("turn.context_budget", 800)
	v.SetDefault("turn.context_max_snippets", 8)
	v.SetDefault("turn.safety_message", DefaultSafetyMessage)
	v.SetDefault("turn.fallback_message", DefaultFallbackMessage)
	v.SetDefault("turn.crisis_phrases", []string{
		"kill myself", "end my life", "suicide", "suicidal", "want to die",
		"hurt myself", "self-harm", "self harm", "no reason to live", "better off dead",
		"overdose", "cut myself",
	})
	v.SetDefault("turn.service_keywords", []string{
		"lawyer", "attorney", "legal aid", "counsel", "law firm", "paralegal",
		"mediator", "representation", "represent me", "legal help", "recommend", "refer me",
	})

	// Matching defaults
	v.SetDefault("matching.page_size", 5)
	v.SetDefault("matching.strategy_size", 20)
	v.SetDefault("matching.cache_enabled", true)
	v.SetDefault("matching.cache_ttl_seconds", internal.DefaultMatchCacheTTLSeconds)
	v.SetDefault("matching.enrich_top_k", 3)
	v.SetDefault("matching.explain", true)
	v.SetDefault("matching.concurrency", 4)

	v.SetDefault("matching.weights.category", 0.25)
	v.SetDefault("matching.weights.location", 0.20)
	v.SetDefault("matching.weights.budget", 0.15)
	v.SetDefault("matching.weights.availability", 0.05)
	v.SetDefault("matching.weights.quality", 0.12)
	v.SetDefault("matching.weights.reputation", 0.08)
	v.SetDefault("matching.weights.style", 0.08)
	v.SetDefault("matching.weights.cultural", 0.07)

	v.SetDefault("matching.adjustments.neighborhood_match", 0.05)
	v.SetDefault("matching.adjustments.prior_positive", 0.05)
	v.SetDefault("matching.adjustments.language_match", 0.03)
	v.SetDefault("matching.adjustments.recognition", 0.03)
	v.SetDefault("matching.adjustments.prior_negative", 0.15)
	v.SetDefault("matching.adjustments.disciplinary", 0.20)
	v.SetDefault("matching.adjustments.budget_mismatch", 0.10)
	v.SetDefault("matching.adjustments.urgency_mismatch", 0.10)
	v.SetDefault("matching.adjustments.gender_mismatch", 0.15)

	v.SetDefault("matching.high_distress", 6.0)
	v.SetDefault("matching.high_engagement", 7.0)
	v.SetDefault("matching.distress_preference_boost", 1.5)
	v.SetDefault("matching.distress_quality_damp", 0.7)
	v.SetDefault("matching.engagement_preference_boost", 1.2)
	v.SetDefault("matching.immediate_availability_boost", 4.0)

	v.SetDefault("matching.budget_tier_rates", []float64{150, 300, 500})
	v.SetDefault("matching.urgency_immediate_hours", 72)
	v.SetDefault("matching.urgency_soon_hours", 336) // two weeks
	v.SetDefault("matching.fast_response_hours", 24)

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.purge_schedule", "@hourly")
}

const DefaultSafetyMessage = "I'm really sorry you're going through this. Your safety matters most right now. " +
	"If you are in immediate danger, call 911. You can call or text 988 (Suicide & Crisis Lifeline) any time, " +
	"or text HOME to 741741 to reach the Crisis Text Line. I'm here with you, and we can return to the legal questions whenever you're ready."

const DefaultFallbackMessage = "Thank you for sharing that with me. I want to make sure I understand your situation. " +
	"Could you tell me a little more about what's going on?"
