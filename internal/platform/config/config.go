package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the typed runtime configuration of the overlay server.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	APIKey      string        `env:"SIGN_API_KEY,required,notEmpty"`
	Namespace   string        `env:"SIGN_NAMESPACE" envDefault:"com.signoverlay.app"`
	APIBaseURL  string        `env:"SIGN_API_BASE_URL" envDefault:"https://pl.weaccess.ai"`
	HTTPTimeout time.Duration `env:"SIGN_HTTP_TIMEOUT" envDefault:"30s"`
	RateLimit   float64       `env:"SIGN_RATE_LIMIT" envDefault:"5"`
	RateBurst   int           `env:"SIGN_RATE_BURST" envDefault:"5"`

	CacheBackend  string `env:"CACHE_BACKEND" envDefault:"file"`
	CacheFileDir  string `env:"CACHE_FILE_DIR" envDefault:"./data"`
	CacheBlobKey  string `env:"CACHE_BLOB_KEY" envDefault:"SignCacheStorage"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	MediaRoot          string   `env:"MEDIA_ROOT" envDefault:"./media"`
	SourceAllowedHosts []string `env:"SOURCE_ALLOWED_HOSTS" envSeparator:","`

	PrefetchReferences  []string `env:"PREFETCH_REFERENCES" envSeparator:","`
	PrefetchConcurrency int      `env:"PREFETCH_CONCURRENCY" envDefault:"4"`
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// Parse builds a Config from the process environment. It fails when a
// required variable such as SIGN_API_KEY is missing.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}
