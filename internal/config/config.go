package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Auth     AuthConfig     `mapstructure:"auth"`
	
	// Model-centric configuration
	ModelList []ModelInstance `mapstructure:"model_list"`
	ModelGroups []ModelGroup    `mapstructure:"model_groups"`
	Router   RouterSettings   `mapstructure:"router"`
	
	Cache    CacheConfig    `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	CORS     CORSConfig     `mapstructure:"cors"`

	AdaptiveRouter AdaptiveRouterConfig `mapstructure:"adaptive_router"`
	ContextEngine  ContextEngineConfig  `mapstructure:"context_engine"`
	Budget         BudgetSettings       `mapstructure:"budget"`
}

type AdaptiveRouterConfig struct {
	PerformanceResetIdle time.Duration `mapstructure:"performance_reset_idle"`
	CircuitResetIdle     time.Duration `mapstructure:"circuit_reset_idle"`
	MetricsSweepInterval time.Duration `mapstructure:"metrics_sweep_interval"`
	CircuitSweepInterval time.Duration `mapstructure:"circuit_sweep_interval"`
	ModelRefreshInterval time.Duration `mapstructure:"model_refresh_interval"`
}

type ContextEngineConfig struct {
	KnowledgeInjectionEnabled bool          `mapstructure:"knowledge_injection_enabled"`
	MemoryRetrievalEnabled    bool          `mapstructure:"memory_retrieval_enabled"`
	MaxContextLength          int           `mapstructure:"max_context_length"`
	CompressionThreshold      float64       `mapstructure:"compression_threshold"`
	TemplateCacheSize         int           `mapstructure:"template_cache_size"`
	KnowledgeCollection       string        `mapstructure:"knowledge_collection"`
	EmbeddingDimensions       int           `mapstructure:"embedding_dimensions"`
	MemoryCleanupInterval     time.Duration `mapstructure:"memory_cleanup_interval"`
	TemplateCleanupInterval   time.Duration `mapstructure:"template_cleanup_interval"`
	MemoryCacheTTL            time.Duration `mapstructure:"memory_cache_ttl"`
	VectorStoreDSN            string        `mapstructure:"vector_store_dsn"`
	EmbeddingModel            string        `mapstructure:"embedding_model"`
}

type BudgetSettings struct {
	CostTrackingEnabled      bool               `mapstructure:"cost_tracking_enabled"`
	BudgetEnforcementEnabled bool               `mapstructure:"budget_enforcement_enabled"`
	DefaultBudget            float64            `mapstructure:"default_budget"`
	ReservationTTL           time.Duration      `mapstructure:"reservation_ttl"`
	CacheReloadPeriod        time.Duration      `mapstructure:"cache_reload_period"`
	AggregationPeriod        time.Duration      `mapstructure:"aggregation_period"`
	ResetCheckPeriod         time.Duration      `mapstructure:"reset_check_period"`
	ResetTimezone            string             `mapstructure:"reset_timezone"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	AdminPort    int           `mapstructure:"admin_port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

type DatabaseConfig struct {
	URL               string        `mapstructure:"url"`
	MaxConnections    int           `mapstructure:"max_connections"`
	MaxIdleConns      int           `mapstructure:"max_idle_connections"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	SecretKey            string        `mapstructure:"secret_key"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration"`
}

type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Email    string `mapstructure:"email"`
}

// AuthConfig configures the master-key fallback and the optional Dex
// OIDC provider used for the gateway's own dashboard/admin login.
type AuthConfig struct {
	MasterKey string       `mapstructure:"master_key"`
	Dex       DexSettings  `mapstructure:"dex"`
}

type DexSettings struct {
	Enabled      bool     `mapstructure:"enabled"`
	Issuer       string   `mapstructure:"issuer"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}


type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	TTL       time.Duration `mapstructure:"ttl"`
	MaxSize   int           `mapstructure:"max_size"`
	Strategy  string        `mapstructure:"strategy"`
}

type RateLimitConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	RequestsPerMinute   int  `mapstructure:"requests_per_minute"`
	Burst               int  `mapstructure:"burst"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
}

type MonitoringConfig struct {
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	EnableTracing bool   `mapstructure:"enable_tracing"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName   string `mapstructure:"service_name"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	
	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/pllm")
	}
	
	// Set defaults
	setDefaults()
	
	// Bind environment variables
	viper.AutomaticEnv()
	bindEnvVars()
	
	// Read config file if exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	
	// Expand environment variables in model_list configs
	modelList := viper.Get("model_list")
	if models, ok := modelList.([]interface{}); ok {
		for i, modelRaw := range models {
			if model, ok := modelRaw.(map[string]interface{}); ok {
				if provider, ok := model["provider"].(map[string]interface{}); ok {
					if apiKey, ok := provider["api_key"].(string); ok {
						// Expand environment variable if it starts with $
						if len(apiKey) > 2 && apiKey[0] == '$' && apiKey[1] == '{' {
							// Find the closing }
							endIdx := len(apiKey) - 1
							if apiKey[endIdx] == '}' {
								envVar := apiKey[2:endIdx] // Remove ${ and }
								if envVal := os.Getenv(envVar); envVal != "" {
									provider["api_key"] = envVal
								}
							}
						}
					}
				}
			}
			models[i] = modelRaw
		}
		viper.Set("model_list", models)
	}
	
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	
	// Set default router settings if not configured
	if config.Router.RoutingStrategy == "" {
		config.Router.RoutingStrategy = "priority"
		config.Router.EnableLoadBalancing = true
		config.Router.MaxRetries = 3
		config.Router.DefaultTimeout = 60 * time.Second
		config.Router.HealthCheckInterval = 30 * time.Second
	}
	
	// Auto-generate IDs for model instances if not provided
	for i := range config.ModelList {
		if config.ModelList[i].ID == "" {
			config.ModelList[i].ID = fmt.Sprintf("%s-%d", config.ModelList[i].ModelName, i)
		}
	}
	
	cfg = &config
	return cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.admin_port", 8081)
	viper.SetDefault("server.metrics_port", 9090)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "300s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown", "30s")
	
	// Database defaults
	viper.SetDefault("database.max_connections", 100)
	viper.SetDefault("database.max_idle_connections", 10)
	viper.SetDefault("database.conn_max_lifetime", "1h")
	
	// Redis defaults
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 100)
	
	// JWT defaults
	viper.SetDefault("jwt.access_token_duration", "15m")
	viper.SetDefault("jwt.refresh_token_duration", "168h")
	
	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.ttl", "3600s")
	viper.SetDefault("cache.max_size", 1000)
	viper.SetDefault("cache.strategy", "lru")
	
	// Rate limit defaults
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_minute", 60)
	viper.SetDefault("rate_limit.burst", 10)
	viper.SetDefault("rate_limit.cleanup_interval", "1m")
	
	// Monitoring defaults
	viper.SetDefault("monitoring.enable_metrics", true)
	viper.SetDefault("monitoring.enable_tracing", true)
	viper.SetDefault("monitoring.service_name", "pllm")
	
	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "")
	
	// CORS defaults
	viper.SetDefault("cors.allow_credentials", true)
	viper.SetDefault("cors.max_age", 86400)

	// Adaptive router defaults
	viper.SetDefault("adaptive_router.performance_reset_idle", "1h")
	viper.SetDefault("adaptive_router.circuit_reset_idle", "10m")
	viper.SetDefault("adaptive_router.metrics_sweep_interval", "60s")
	viper.SetDefault("adaptive_router.circuit_sweep_interval", "5m")
	viper.SetDefault("adaptive_router.model_refresh_interval", "10m")

	// Context engine defaults
	viper.SetDefault("context_engine.knowledge_injection_enabled", true)
	viper.SetDefault("context_engine.memory_retrieval_enabled", true)
	viper.SetDefault("context_engine.max_context_length", 8000)
	viper.SetDefault("context_engine.compression_threshold", 0.8)
	viper.SetDefault("context_engine.template_cache_size", 500)
	viper.SetDefault("context_engine.knowledge_collection", "knowledge_base")
	viper.SetDefault("context_engine.embedding_dimensions", 384)
	viper.SetDefault("context_engine.memory_cleanup_interval", "1h")
	viper.SetDefault("context_engine.template_cleanup_interval", "30m")
	viper.SetDefault("context_engine.memory_cache_ttl", "24h")
	viper.SetDefault("context_engine.vector_store_dsn", "")
	viper.SetDefault("context_engine.embedding_model", "text-embedding-3-small")

	// Auth defaults
	viper.SetDefault("auth.dex.enabled", false)

	// Budget defaults
	viper.SetDefault("budget.cost_tracking_enabled", true)
	viper.SetDefault("budget.budget_enforcement_enabled", true)
	viper.SetDefault("budget.default_budget", 100.0)
	viper.SetDefault("budget.reservation_ttl", "5m")
	viper.SetDefault("budget.cache_reload_period", "5m")
	viper.SetDefault("budget.aggregation_period", "1h")
	viper.SetDefault("budget.reset_check_period", "1h")
	viper.SetDefault("budget.reset_timezone", "UTC")
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.admin_port", "ADMIN_PORT")
	viper.BindEnv("server.metrics_port", "METRICS_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.idle_timeout", "SERVER_IDLE_TIMEOUT")
	
	// Database
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.max_connections", "DATABASE_MAX_CONNECTIONS")
	viper.BindEnv("database.max_idle_connections", "DATABASE_MAX_IDLE_CONNECTIONS")
	
	// Redis
	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	
	// JWT
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.access_token_duration", "JWT_ACCESS_TOKEN_DURATION")
	viper.BindEnv("jwt.refresh_token_duration", "JWT_REFRESH_TOKEN_DURATION")
	
	// Admin
	viper.BindEnv("admin.username", "ADMIN_USERNAME")
	viper.BindEnv("admin.password", "ADMIN_PASSWORD")
	viper.BindEnv("admin.email", "ADMIN_EMAIL")

	// Auth
	viper.BindEnv("auth.master_key", "AUTH_MASTER_KEY")
	viper.BindEnv("auth.dex.enabled", "AUTH_DEX_ENABLED")
	viper.BindEnv("auth.dex.issuer", "AUTH_DEX_ISSUER")
	viper.BindEnv("auth.dex.client_id", "AUTH_DEX_CLIENT_ID")
	viper.BindEnv("auth.dex.client_secret", "AUTH_DEX_CLIENT_SECRET")
	viper.BindEnv("auth.dex.redirect_url", "AUTH_DEX_REDIRECT_URL")
	
	// Cache
	viper.BindEnv("cache.ttl", "CACHE_TTL")
	viper.BindEnv("cache.max_size", "CACHE_MAX_SIZE")
	
	// Rate Limiting
	viper.BindEnv("rate_limit.requests_per_minute", "RATE_LIMIT_REQUESTS_PER_MINUTE")
	viper.BindEnv("rate_limit.burst", "RATE_LIMIT_BURST")
	
	// Monitoring
	viper.BindEnv("monitoring.enable_metrics", "ENABLE_METRICS")
	viper.BindEnv("monitoring.enable_tracing", "ENABLE_TRACING")
	viper.BindEnv("monitoring.jaeger_endpoint", "JAEGER_ENDPOINT")
	
	// Logging
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("logging.format", "LOG_FORMAT")
	
	// CORS
	viper.BindEnv("cors.allowed_origins", "CORS_ALLOWED_ORIGINS")
	viper.BindEnv("cors.allowed_methods", "CORS_ALLOWED_METHODS")
	viper.BindEnv("cors.allowed_headers", "CORS_ALLOWED_HEADERS")

	// Adaptive router
	viper.BindEnv("adaptive_router.circuit_reset_idle", "ROUTER_CIRCUIT_RESET_IDLE")
	viper.BindEnv("adaptive_router.model_refresh_interval", "ROUTER_MODEL_REFRESH_INTERVAL")

	// Context engine
	viper.BindEnv("context_engine.knowledge_collection", "CONTEXT_KNOWLEDGE_COLLECTION")
	viper.BindEnv("context_engine.max_context_length", "CONTEXT_MAX_LENGTH")
	viper.BindEnv("context_engine.vector_store_dsn", "CONTEXT_VECTOR_STORE_DSN")

	// Budget
	viper.BindEnv("budget.budget_enforcement_enabled", "BUDGET_ENFORCEMENT_ENABLED")
	viper.BindEnv("budget.default_budget", "BUDGET_DEFAULT_BUDGET")
	viper.BindEnv("budget.reset_timezone", "BUDGET_RESET_TIMEZONE")
}

func Get() *Config {
	return cfg
}