package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the resolver.
type Config struct {
	FDC      FDCConfig
	LLM      LLMConfig
	Paths    PathsConfig
	Pipeline PipelineConfig
	Server   ServerConfig
}

// FDCConfig holds FoodData Central API configuration. DefaultPageSize and
// DefaultDataType apply to plain catalog searches outside the tiered pipeline,
// such as the mappings find command.
type FDCConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	RateDelay       time.Duration `mapstructure:"rate_delay"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DefaultPageSize int           `mapstructure:"default_page_size"`
	DefaultDataType string        `mapstructure:"default_data_type"`
}

// LLMConfig holds chat-completions backend configuration. An empty API key
// disables the LLM stages; the pipeline then runs on deterministic fallbacks.
type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// PathsConfig holds the data file locations.
type PathsConfig struct {
	CuratedMappings     string `mapstructure:"curated_mappings"`
	IntentCache         string `mapstructure:"intent_cache"`
	NutrientDefinitions string `mapstructure:"nutrient_definitions"`
	OutputDir           string `mapstructure:"output_dir"`
}

// PipelineConfig tunes the resolution pipeline. MaxAcceptablePenalty is the
// relevance-penalty cutoff for mapping suggestions; candidates scoring worse
// than it are not worth showing an operator.
type PipelineConfig struct {
	MaxAttempts          int  `mapstructure:"max_attempts"`
	TopCandidates        int  `mapstructure:"top_candidates"`
	Parallelism          int  `mapstructure:"parallelism"`
	CategoryRetries      bool `mapstructure:"category_retries"`
	MaxAcceptablePenalty int  `mapstructure:"max_acceptable_penalty"`
}

// ServerConfig holds the HTTP serve-mode configuration.
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Environment    string        `mapstructure:"environment"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ResultCacheTTL time.Duration `mapstructure:"result_cache_ttl"`
}

// Load loads configuration from environment variables and an optional
// config.yaml in the working directory.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/nutrimap/")

	v.SetEnvPrefix("NUTRIMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; env vars and defaults apply.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values. Keys without a natural
// default are still registered with an empty value; viper only carries
// environment variables into Unmarshal for keys it knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("fdc.api_key", "")
	v.SetDefault("fdc.base_url", "https://api.nal.usda.gov/fdc")
	v.SetDefault("fdc.rate_delay", "500ms")
	v.SetDefault("fdc.max_retries", 3)
	v.SetDefault("fdc.timeout", "45s")
	v.SetDefault("fdc.default_page_size", 50)
	v.SetDefault("fdc.default_data_type", "Foundation,SR Legacy")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")

	v.SetDefault("paths.curated_mappings", "data/curated_mappings.json")
	v.SetDefault("paths.intent_cache", "data/intent_cache.json")
	v.SetDefault("paths.nutrient_definitions", "")
	v.SetDefault("paths.output_dir", "output")

	v.SetDefault("pipeline.max_attempts", 2)
	v.SetDefault("pipeline.top_candidates", 3)
	v.SetDefault("pipeline.parallelism", 1)
	v.SetDefault("pipeline.category_retries", false)
	v.SetDefault("pipeline.max_acceptable_penalty", 1000)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.result_cache_ttl", "720h")
}

// validate validates the configuration.
func validate(config *Config) error {
	if config.FDC.APIKey == "" {
		return fmt.Errorf("FDC API key is required (set NUTRIMAP_FDC_API_KEY)")
	}

	if config.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline max_attempts must be at least 1, got: %d", config.Pipeline.MaxAttempts)
	}

	if config.Pipeline.Parallelism < 1 {
		return fmt.Errorf("pipeline parallelism must be at least 1, got: %d", config.Pipeline.Parallelism)
	}

	return nil
}
