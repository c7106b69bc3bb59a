// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables
// (.env file) for the news-ingestion and prediction agents plus the
// handful of legacy fields the teacher's original deployment carried.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
//
// Data Directory Priority (highest to lowest):
// 1. --data-dir CLI flag (if provided)
// 2. TRADER_DATA_DIR environment variable
// 3. /home/arduino/data (default)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration, loaded once from environment
// variables at startup.
type Config struct {
	DataDir             string            // Base directory for all databases (defaults to "/home/arduino/data", always absolute)
	EvaluatorServiceURL string            // Evaluator service URL (legacy - not used in current architecture)
	TradernetAPIKey     string            // Tradernet API key
	TradernetAPISecret  string            // Tradernet API secret
	GitHubToken         string            // GitHub personal access token for artifact downloads (legacy, unused by the current agents)
	LogLevel            string            // Log level (debug, info, warn, error)
	Port                int               // HTTP server port (default: 8001)
	DevMode             bool              // Development mode flag
	News                NewsConfig        // News ingestion agent tuning
	Prediction          PredictionConfig  // Prediction agent tuning
	Polymarket          PolymarketConfig  // Prediction market venue endpoints
	LLM                 LLMConfig         // LLM collaborator endpoint
	NewsSource          NewsSourceConfig  // News search/scrape collaborator endpoints
	Alerting            AlertingConfig    // Optional Slack alerting collaborator
	SnapshotColdStore   SnapshotColdStoreConfig // Optional S3 archival tier for old snapshots
	MetricsEnabled      bool              // Expose the Prometheus /metrics endpoint
}

// NewsConfig holds the news agent's cycle pacing and clustering knobs.
// Field names mirror the env vars named in spec §6; defaults match
// internal/news's own AssignmentConfig defaults where they overlap.
type NewsConfig struct {
	CycleIntervalMS              int     // NEWS_CYCLE_INTERVAL_MS, default 60000
	RotationMode                 bool    // NEWS_ROTATION_MODE
	QueriesPerCategory           int     // NEWS_QUERIES_PER_CATEGORY
	VectorDistanceThreshold      float64 // NEWS_VECTOR_DISTANCE_THRESHOLD, default 0.65
	VectorFilterByCategory       bool    // NEWS_VECTOR_FILTER_BY_CATEGORY
	UseGLM                       bool    // NEWS_USE_GLM
	UseEnhancedSemanticClustering bool   // USE_ENHANCED_SEMANTIC_CLUSTERING
	ClusterBatchSize             int     // CLUSTER_BATCH_SIZE, default 20
	EnhancedClusteringEnabled    bool    // ENHANCED_CLUSTERING_ENABLED / USE_ENHANCED_CLUSTERING
	CacheRedisAddr               string  // NEWS_CACHE_REDIS_ADDR, optional: Redis-backed entity/embedding cache instead of in-process LRU
}

// PredictionConfig holds the prediction agent's execution and risk
// knobs. These map onto prediction.RiskConfig and the
// PredictionExecutionEngine constructor arguments; config.Load only
// parses the environment, it does not import internal/prediction.
// OrderTimeout is parsed but not passed on: the prediction orchestrator's
// pending-order sweep uses a fixed 30s timeout.
type PredictionConfig struct {
	PaperBalance            float64       // PREDICTION_PAPER_BALANCE, default 10000
	PaperTrading            bool          // PREDICTION_PAPER_TRADING, default true
	OrderTimeout             time.Duration // PREDICTION_ORDER_TIMEOUT_MS, default 30s
	MaxSlippagePct           float64       // PREDICTION_MAX_SLIPPAGE_PCT, default 0.02
	MaxDailyLossPct          float64       // PREDICTION_MAX_DAILY_LOSS_PCT
	MaxDailyLossUSD          float64       // PREDICTION_MAX_DAILY_LOSS_USD
	MaxDailyTrades           int           // PREDICTION_MAX_DAILY_TRADES
	MaxPortfolioHeatPct      float64       // PREDICTION_MAX_PORTFOLIO_HEAT_PCT
	MaxPositions             int           // PREDICTION_MAX_POSITIONS
	MaxPositionPct           float64       // PREDICTION_MAX_POSITION_PCT
	CooldownMinutes          time.Duration // PREDICTION_COOLDOWN_MINUTES
	CooldownAfterWinMinutes  time.Duration // PREDICTION_COOLDOWN_AFTER_WIN_MIN
	StopLossPct              float64       // PREDICTION_STOP_LOSS_PCT
	EnableCorrelationCheck   bool          // PREDICTION_ENABLE_CORRELATION_CHECK
	MaxCorrelatedPositions   int           // PREDICTION_MAX_CORRELATED_POS
	EmergencyStopLossPct     float64       // PREDICTION_EMERGENCY_STOP_LOSS
}

// PolymarketConfig holds the prediction market venue's HTTP endpoints.
type PolymarketConfig struct {
	APIBase  string // POLYMARKET_API_BASE
	CLOBBase string // POLYMARKET_CLOB_BASE
	WSBase   string // POLYMARKET_WS_BASE, live quote stream
}

// LLMConfig points at the LLM collaborator's HTTP endpoint. Spec §1 takes
// no opinion on the provider; this is a generic JSON-over-HTTP base URL,
// not a vendor SDK configuration.
type LLMConfig struct {
	APIBase string // LLM_API_BASE
	APIKey  string // LLM_API_KEY
}

// NewsSourceConfig points at the news search/scrape collaborators'
// HTTP endpoints (spec §1 out-of-scope news-source discovery).
type NewsSourceConfig struct {
	SearchAPIBase string // NEWS_SEARCH_API_BASE
	ScrapeAPIBase string // NEWS_SCRAPE_API_BASE
	VectorAPIBase string // NEWS_VECTOR_API_BASE, optional C6 phase-2 vector store
}

// AlertingConfig points the Slack alerting collaborator at a bot token and
// channel. Empty BotToken disables alerting.
type AlertingConfig struct {
	SlackBotToken string // SLACK_BOT_TOKEN
	SlackChannel  string // SLACK_ALERT_CHANNEL
}

// SnapshotColdStoreConfig points the snapshot archival tier at an S3 (or
// S3-compatible, e.g. Cloudflare R2) bucket. Empty Bucket disables the
// cold tier; snapshots past retention are pruned only.
type SnapshotColdStoreConfig struct {
	Bucket      string // SNAPSHOT_S3_BUCKET
	Region      string // SNAPSHOT_S3_REGION
	EndpointURL string // SNAPSHOT_S3_ENDPOINT_URL, optional (non-AWS S3-compatible endpoint)
}

// Load reads configuration from environment variables.
//
// This function:
// 1. Loads .env file if it exists (via godotenv)
// 2. Reads environment variables with defaults
// 3. Resolves data directory to absolute path
// 4. Creates data directory if it doesn't exist
// 5. Validates configuration
//
// dataDirOverride - Optional CLI flag override for data directory (takes highest priority)
// Returns *Config - Loaded configuration
// Returns error - Error if configuration loading fails
func Load(dataDirOverride ...string) (*Config, error) {
	// Load .env file if it exists
	// godotenv.Load() returns an error if .env doesn't exist, which is fine
	_ = godotenv.Load()

	// Determine data directory with fallback logic (priority order):
	// 1. CLI flag override (if provided) - highest priority
	// 2. TRADER_DATA_DIR environment variable
	// 3. Default to /home/arduino/data - lowest priority
	// 4. Always resolve to absolute path
	// 5. Ensure directory exists
	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		// CLI flag takes highest priority
		dataDir = dataDirOverride[0]
	} else {
		// Fall back to environment variable or default
		dataDir = getEnv("TRADER_DATA_DIR", "")
		if dataDir == "" {
			// Default fallback to absolute path (Arduino Uno Q default)
			dataDir = "/home/arduino/data"
		}
	}

	// Always resolve to absolute path
	// This ensures consistent path handling across different working directories
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	// Creates directory with 0755 permissions (rwxr-xr-x)
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		Port:                getEnvAsInt("GO_PORT", 8001), // Default 8001 (Python uses 8000)
		DevMode:             getEnvAsBool("DEV_MODE", false),
		EvaluatorServiceURL: getEnv("EVALUATOR_SERVICE_URL", "http://localhost:9000"), // Evaluator-go microservice on 9000 (legacy)
		TradernetAPIKey:     getEnv("TRADERNET_API_KEY", ""),
		TradernetAPISecret:  getEnv("TRADERNET_API_SECRET", ""),
		GitHubToken:         getEnv("GITHUB_TOKEN", ""), // GitHub token (legacy, unused by the current agents)
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		News:                loadNewsConfig(),
		Prediction:          loadPredictionConfig(),
		Polymarket:          loadPolymarketConfig(),
		LLM:                 loadLLMConfig(),
		NewsSource:          loadNewsSourceConfig(),
		Alerting:            loadAlertingConfig(),
		SnapshotColdStore:   loadSnapshotColdStoreConfig(),
		MetricsEnabled:      getEnvAsBool("METRICS_ENABLED", true),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
//
// Currently, all configuration is optional (no Tradernet credentials are
// required, and research mode doesn't require broker connection).
//
// Returns error - Error if validation fails (currently always returns nil)
func (c *Config) Validate() error {
	// Note: Tradernet credentials optional for research mode
	// No credential is required, so validation is not strict
	// if c.TradernetAPIKey == "" || c.TradernetAPISecret == "" {
	//     return fmt.Errorf("Tradernet API credentials required")
	// }

	return nil
}

// ==========================================
// Helper Functions
// ==========================================

// getEnv retrieves an environment variable with a default value.
//
// key - Environment variable name
// defaultValue - Default value if environment variable is not set
// Returns string - Environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer with a default value.
//
// key - Environment variable name
// defaultValue - Default value if environment variable is not set or invalid
// Returns int - Environment variable value as integer or default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean with a default value.
//
// key - Environment variable name
// defaultValue - Default value if environment variable is not set or invalid
// Returns bool - Environment variable value as boolean or default
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float64 with a default value.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsMillis retrieves an environment variable holding a millisecond
// count and returns it as a time.Duration.
func getEnvAsMillis(key string, defaultMS int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMS)) * time.Millisecond
}

// getEnvAsMinutes retrieves an environment variable holding a minute
// count and returns it as a time.Duration.
func getEnvAsMinutes(key string, defaultMinutes int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMinutes)) * time.Minute
}

// loadNewsConfig reads the news agent's environment variables (spec §6).
func loadNewsConfig() NewsConfig {
	enhanced := getEnvAsBool("ENHANCED_CLUSTERING_ENABLED", getEnvAsBool("USE_ENHANCED_CLUSTERING", true))
	return NewsConfig{
		CycleIntervalMS:               getEnvAsInt("NEWS_CYCLE_INTERVAL_MS", 60000),
		RotationMode:                  getEnvAsBool("NEWS_ROTATION_MODE", false),
		QueriesPerCategory:            getEnvAsInt("NEWS_QUERIES_PER_CATEGORY", 3),
		VectorDistanceThreshold:       getEnvAsFloat("NEWS_VECTOR_DISTANCE_THRESHOLD", 0.65),
		VectorFilterByCategory:        getEnvAsBool("NEWS_VECTOR_FILTER_BY_CATEGORY", true),
		UseGLM:                        getEnvAsBool("NEWS_USE_GLM", false),
		UseEnhancedSemanticClustering: getEnvAsBool("USE_ENHANCED_SEMANTIC_CLUSTERING", true),
		ClusterBatchSize:              getEnvAsInt("CLUSTER_BATCH_SIZE", 20),
		EnhancedClusteringEnabled:     enhanced,
		CacheRedisAddr:                getEnv("NEWS_CACHE_REDIS_ADDR", ""),
	}
}

// loadPredictionConfig reads the prediction agent's environment
// variables (spec §6). Defaults mirror prediction.defaultRiskConfig.
func loadPredictionConfig() PredictionConfig {
	return PredictionConfig{
		PaperBalance:            getEnvAsFloat("PREDICTION_PAPER_BALANCE", 10000),
		PaperTrading:            getEnvAsBool("PREDICTION_PAPER_TRADING", true),
		OrderTimeout:            getEnvAsMillis("PREDICTION_ORDER_TIMEOUT_MS", 30000),
		MaxSlippagePct:          getEnvAsFloat("PREDICTION_MAX_SLIPPAGE_PCT", 0.02),
		MaxDailyLossPct:         getEnvAsFloat("PREDICTION_MAX_DAILY_LOSS_PCT", 0.02),
		MaxDailyLossUSD:         getEnvAsFloat("PREDICTION_MAX_DAILY_LOSS_USD", 100),
		MaxDailyTrades:          getEnvAsInt("PREDICTION_MAX_DAILY_TRADES", 5),
		MaxPortfolioHeatPct:     getEnvAsFloat("PREDICTION_MAX_PORTFOLIO_HEAT_PCT", 0.30),
		MaxPositions:            getEnvAsInt("PREDICTION_MAX_POSITIONS", 10),
		MaxPositionPct:          getEnvAsFloat("PREDICTION_MAX_POSITION_PCT", 0.05),
		CooldownMinutes:         getEnvAsMinutes("PREDICTION_COOLDOWN_MINUTES", 30),
		CooldownAfterWinMinutes: getEnvAsMinutes("PREDICTION_COOLDOWN_AFTER_WIN_MIN", 5),
		StopLossPct:             getEnvAsFloat("PREDICTION_STOP_LOSS_PCT", 0.20),
		EnableCorrelationCheck:  getEnvAsBool("PREDICTION_ENABLE_CORRELATION_CHECK", true),
		MaxCorrelatedPositions:  getEnvAsInt("PREDICTION_MAX_CORRELATED_POS", 2),
		EmergencyStopLossPct:    getEnvAsFloat("PREDICTION_EMERGENCY_STOP_LOSS", 0.05),
	}
}

// loadPolymarketConfig reads the prediction market venue's endpoints.
func loadPolymarketConfig() PolymarketConfig {
	return PolymarketConfig{
		APIBase:  getEnv("POLYMARKET_API_BASE", "https://gamma-api.polymarket.com"),
		CLOBBase: getEnv("POLYMARKET_CLOB_BASE", "https://clob.polymarket.com"),
		WSBase:   getEnv("POLYMARKET_WS_BASE", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
	}
}

// loadLLMConfig reads the LLM collaborator's endpoint.
func loadLLMConfig() LLMConfig {
	return LLMConfig{
		APIBase: getEnv("LLM_API_BASE", ""),
		APIKey:  getEnv("LLM_API_KEY", ""),
	}
}

// loadNewsSourceConfig reads the news search/scrape collaborators' endpoints.
func loadNewsSourceConfig() NewsSourceConfig {
	return NewsSourceConfig{
		SearchAPIBase: getEnv("NEWS_SEARCH_API_BASE", ""),
		ScrapeAPIBase: getEnv("NEWS_SCRAPE_API_BASE", ""),
		VectorAPIBase: getEnv("NEWS_VECTOR_API_BASE", ""),
	}
}

// loadAlertingConfig reads the optional Slack alerting collaborator's
// credentials. SlackBotToken is empty by default, leaving alerting
// disabled.
func loadAlertingConfig() AlertingConfig {
	return AlertingConfig{
		SlackBotToken: getEnv("SLACK_BOT_TOKEN", ""),
		SlackChannel:  getEnv("SLACK_ALERT_CHANNEL", ""),
	}
}

// loadSnapshotColdStoreConfig reads the optional snapshot archival tier's
// bucket settings. Bucket is empty by default, leaving archival disabled.
func loadSnapshotColdStoreConfig() SnapshotColdStoreConfig {
	return SnapshotColdStoreConfig{
		Bucket:      getEnv("SNAPSHOT_S3_BUCKET", ""),
		Region:      getEnv("SNAPSHOT_S3_REGION", "us-east-1"),
		EndpointURL: getEnv("SNAPSHOT_S3_ENDPOINT_URL", ""),
	}
}
