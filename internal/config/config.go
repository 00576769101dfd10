package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process-wide configuration. It is constructed once at
// startup and passed by reference into every component; nothing mutates it
// after Load returns.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Debate   DebateConfig
	Experts  ExpertConfig
	Quality  QualityConfig
	Credits  CreditConfig
	LLM      LLMConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// AnalysisTTL bounds how long a cached question analysis is reused.
	AnalysisTTL time.Duration
}

// DebateConfig holds the round-loop policy knobs. The numeric thresholds are
// tunable policy, not correctness guarantees.
type DebateConfig struct {
	MaxRounds          int
	MinRoundsConsensus int     // rounds that must elapse before consensus is accepted
	ConsensusThreshold float64 // 0-1
	MaxTokensPerMsg    int
	RoundTimeout       time.Duration
	CallTimeout        time.Duration
}

type ExpertConfig struct {
	CatalogPath         string // optional YAML catalog overriding built-ins
	MinExperts          int
	MaxExperts          int
	MinScore            float64
	AlwaysIncludeCritic bool
	QualityFloor        float64 // minimum acceptable mean panel score
}

// QualityConfig tunes the quality monitor and the moderator cadence.
// Cadences are expressed in rounds between interventions per quality tier.
type QualityConfig struct {
	LowThreshold    float64 // overall quality below this is the low tier
	HighThreshold   float64 // overall quality above this is the high tier
	CadenceLow      int
	CadenceMedium   int
	CadenceHigh     int
	DepthFloor      float64
	DiversityFloor  float64
	PrematureRounds int // consensus spikes at or before this round are premature
}

type CreditConfig struct {
	SessionCost   int // credits debited up front per session
	CostPerRound  int // credits attributed to each completed round
	AnalysisCost  int // credits attributed to the analysis phase
	SynthesisCost int // credits attributed to the synthesis phase
}

type LLMConfig struct {
	BaseURL         string
	APIKey          string
	RequestTimeout  time.Duration
	CostPer1KTokens float64 // prices generation when the provider reports no cost
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	AnalyzerModel   string
	AnalyzerTemp    float64
	SynthesisModel  string
	ModeratorModel  string
	DefaultModel    string
}

// Load builds the configuration from environment variables, reading an
// optional .env file first. Missing variables fall back to defaults.
func Load() (*Config, error) {
	// .env is optional; absence is not an error
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8085"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Minute),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "panel"),
			Password: getEnv("DB_PASSWORD", "secret"),
			Name:     getEnv("DB_NAME", "panel_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			AnalysisTTL: getEnvDuration("REDIS_ANALYSIS_TTL", 24*time.Hour),
		},
		Debate: DebateConfig{
			MaxRounds:          getEnvInt("DEBATE_MAX_ROUNDS", 5),
			MinRoundsConsensus: getEnvInt("DEBATE_MIN_ROUNDS_CONSENSUS", 2),
			ConsensusThreshold: getEnvFloat("DEBATE_CONSENSUS_THRESHOLD", 0.75),
			MaxTokensPerMsg:    getEnvInt("DEBATE_MAX_TOKENS_PER_MESSAGE", 1024),
			RoundTimeout:       getEnvDuration("DEBATE_ROUND_TIMEOUT", 5*time.Minute),
			CallTimeout:        getEnvDuration("DEBATE_CALL_TIMEOUT", 90*time.Second),
		},
		Experts: ExpertConfig{
			CatalogPath:         getEnv("EXPERT_CATALOG_PATH", ""),
			MinExperts:          getEnvInt("EXPERT_MIN", 3),
			MaxExperts:          getEnvInt("EXPERT_MAX", 6),
			MinScore:            getEnvFloat("EXPERT_MIN_SCORE", 20.0),
			AlwaysIncludeCritic: getEnvBool("EXPERT_ALWAYS_INCLUDE_CRITIC", true),
			QualityFloor:        getEnvFloat("EXPERT_QUALITY_FLOOR", 25.0),
		},
		Quality: QualityConfig{
			LowThreshold:    getEnvFloat("QUALITY_LOW_THRESHOLD", 0.4),
			HighThreshold:   getEnvFloat("QUALITY_HIGH_THRESHOLD", 0.7),
			CadenceLow:      getEnvInt("QUALITY_CADENCE_LOW", 2),
			CadenceMedium:   getEnvInt("QUALITY_CADENCE_MEDIUM", 3),
			CadenceHigh:     getEnvInt("QUALITY_CADENCE_HIGH", 5),
			DepthFloor:      getEnvFloat("QUALITY_DEPTH_FLOOR", 0.35),
			DiversityFloor:  getEnvFloat("QUALITY_DIVERSITY_FLOOR", 0.3),
			PrematureRounds: getEnvInt("QUALITY_PREMATURE_ROUNDS", 2),
		},
		Credits: CreditConfig{
			SessionCost:   getEnvInt("CREDITS_SESSION_COST", 50),
			CostPerRound:  getEnvInt("CREDITS_COST_PER_ROUND", 8),
			AnalysisCost:  getEnvInt("CREDITS_ANALYSIS_COST", 5),
			SynthesisCost: getEnvInt("CREDITS_SYNTHESIS_COST", 5),
		},
		LLM: LLMConfig{
			BaseURL:         getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:          getEnv("LLM_API_KEY", ""),
			RequestTimeout:  getEnvDuration("LLM_REQUEST_TIMEOUT", 120*time.Second),
			CostPer1KTokens: getEnvFloat("LLM_COST_PER_1K_TOKENS", 0.0),
			MaxRetries:      getEnvInt("LLM_MAX_RETRIES", 3),
			InitialBackoff:  getEnvDuration("LLM_INITIAL_BACKOFF", 1*time.Second),
			MaxBackoff:      getEnvDuration("LLM_MAX_BACKOFF", 30*time.Second),
			AnalyzerModel:   getEnv("LLM_ANALYZER_MODEL", "gpt-4o-mini"),
			AnalyzerTemp:    getEnvFloat("LLM_ANALYZER_TEMPERATURE", 0.1),
			SynthesisModel:  getEnv("LLM_SYNTHESIS_MODEL", "gpt-4o"),
			ModeratorModel:  getEnv("LLM_MODERATOR_MODEL", "gpt-4o-mini"),
			DefaultModel:    getEnv("LLM_DEFAULT_MODEL", "gpt-4o"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a coherent run.
func (c *Config) Validate() error {
	if c.Debate.MaxRounds < 1 {
		return fmt.Errorf("invalid config: DEBATE_MAX_ROUNDS must be >= 1, got %d", c.Debate.MaxRounds)
	}
	if c.Debate.MinRoundsConsensus < 1 {
		return fmt.Errorf("invalid config: DEBATE_MIN_ROUNDS_CONSENSUS must be >= 1, got %d", c.Debate.MinRoundsConsensus)
	}
	if c.Debate.ConsensusThreshold <= 0 || c.Debate.ConsensusThreshold > 1 {
		return fmt.Errorf("invalid config: DEBATE_CONSENSUS_THRESHOLD must be in (0,1], got %f", c.Debate.ConsensusThreshold)
	}
	if c.Experts.MinExperts < 1 || c.Experts.MaxExperts < c.Experts.MinExperts {
		return fmt.Errorf("invalid config: expert bounds min=%d max=%d", c.Experts.MinExperts, c.Experts.MaxExperts)
	}
	if c.Quality.LowThreshold >= c.Quality.HighThreshold {
		return fmt.Errorf("invalid config: quality low threshold %f must be below high threshold %f",
			c.Quality.LowThreshold, c.Quality.HighThreshold)
	}
	if c.Credits.SessionCost < 1 {
		return fmt.Errorf("invalid config: CREDITS_SESSION_COST must be >= 1, got %d", c.Credits.SessionCost)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
