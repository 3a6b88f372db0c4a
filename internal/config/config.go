package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	LogLevel            string
	DatabaseURL         string
	RedisURL            string
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool
	HealthAdminKey      string
	ShareBaseURL        string // links are ShareBaseURL + "/portfolio/" + token

	// Client IP comes from ProxyHeader only when the direct peer is in TrustedProxies (IPs or CIDRs).
	ProxyHeader    string
	TrustedProxies []string

	InsightTTL       time.Duration
	NarrativeTimeout time.Duration

	NarrativeProvider string // openai | gemini | none
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	GeminiAPIKey      string
	GeminiModel       string

	PriceProvider    string // simulated | twelvedata
	PriceSeed        uint64
	TwelveDataAPIKey string
	TwelveDataURL    string
	PriceCacheTTL    time.Duration

	PriceRefreshInterval        time.Duration
	VisibilityReconcileInterval time.Duration
}

func setDefaults() {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SHARE_BASE_URL", "http://localhost:3000")
	viper.SetDefault("PROXY_HEADER", "X-Forwarded-For")
	viper.SetDefault("INSIGHT_TTL", time.Hour)
	viper.SetDefault("NARRATIVE_TIMEOUT", 20*time.Second)
	viper.SetDefault("NARRATIVE_PROVIDER", "none")
	viper.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	viper.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	viper.SetDefault("PRICE_PROVIDER", "simulated")
	viper.SetDefault("TWELVEDATA_URL", "https://api.twelvedata.com")
	viper.SetDefault("PRICE_CACHE_TTL", 30*time.Second)
	viper.SetDefault("PRICE_REFRESH_INTERVAL", 15*time.Minute)
	viper.SetDefault("VISIBILITY_RECONCILE_INTERVAL", time.Hour)
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL_DEV")
	}

	return &Config{
		Env:                 env,
		Port:                viper.GetString("PORT"),
		LogLevel:            viper.GetString("LOG_LEVEL"),
		DatabaseURL:         dbURL,
		RedisURL:            viper.GetString("REDIS_URL"),
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:   strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),
		ShareBaseURL:        strings.TrimRight(strings.TrimSpace(viper.GetString("SHARE_BASE_URL")), "/"),
		ProxyHeader:         viper.GetString("PROXY_HEADER"),
		TrustedProxies:      splitList(viper.GetString("TRUSTED_PROXIES")),

		InsightTTL:       viper.GetDuration("INSIGHT_TTL"),
		NarrativeTimeout: viper.GetDuration("NARRATIVE_TIMEOUT"),

		NarrativeProvider: strings.ToLower(viper.GetString("NARRATIVE_PROVIDER")),
		OpenAIAPIKey:      viper.GetString("OPENAI_API_KEY"),
		OpenAIModel:       viper.GetString("OPENAI_MODEL"),
		OpenAIBaseURL:     viper.GetString("OPENAI_BASE_URL"),
		GeminiAPIKey:      viper.GetString("GEMINI_API_KEY"),
		GeminiModel:       viper.GetString("GEMINI_MODEL"),

		PriceProvider:    strings.ToLower(viper.GetString("PRICE_PROVIDER")),
		PriceSeed:        viper.GetUint64("PRICE_SEED"),
		TwelveDataAPIKey: viper.GetString("TWELVEDATA_API_KEY"),
		TwelveDataURL:    viper.GetString("TWELVEDATA_URL"),
		PriceCacheTTL:    viper.GetDuration("PRICE_CACHE_TTL"),

		PriceRefreshInterval:        viper.GetDuration("PRICE_REFRESH_INTERVAL"),
		VisibilityReconcileInterval: viper.GetDuration("VISIBILITY_RECONCILE_INTERVAL"),
	}, nil
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// splitList parses a comma-separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
