package utils

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.yaml"

// Render engines understood by the image service.
const (
	EngineNative = "native"
	EngineChrome = "chrome"
)

// Config is the full service configuration as read from YAML.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	// Page is the single source page the card is built from.
	Page struct {
		URL         string `yaml:"url"`
		TimeoutSecs int    `yaml:"timeout_secs"`
		RetryMax    int    `yaml:"retry_max"`
	} `yaml:"page"`

	Fonts FontsConfig `yaml:"fonts"`

	Render struct {
		Engine          string `yaml:"engine"`
		TimeoutSecs     int    `yaml:"timeout_secs"`
		ChromePath      string `yaml:"chrome_path"`
		ChromeNoSandbox bool   `yaml:"chrome_no_sandbox"`
		ChromePoolSize  int    `yaml:"chrome_pool_size"`
		UserDataDir     string `yaml:"user_data_dir"`
	} `yaml:"render"`

	Cache struct {
		ImageCacheEnabled bool          `yaml:"image_cache_enabled"`
		ImageCacheTTL     time.Duration `yaml:"image_cache_ttl"`
		RedisHost         string        `yaml:"redis_host"`
		RateLimitDB       int           `yaml:"redis_rate_db"`
		ImageCacheDB      int           `yaml:"redis_image_db"`
	} `yaml:"cache"`

	RateLimiter struct {
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
		UserLimit         int           `yaml:"user_limit"`
		Interval          time.Duration `yaml:"interval"`
	} `yaml:"rate_limiter"`

	Limits struct {
		MaxHTMLBytes  int `yaml:"max_html_bytes"`
		MaxImageBytes int `yaml:"max_image_bytes"`
	} `yaml:"limits"`
}

// FontsConfig locates the two font variants registered on every card.
type FontsConfig struct {
	Dir         string `yaml:"dir"`
	Family      string `yaml:"family"`
	RegularURL  string `yaml:"regular_url"`
	BoldURL     string `yaml:"bold_url"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// AppConfig holds the configuration loaded at startup.
var AppConfig Config

// DefaultConfig returns the configuration used when no file overrides a value.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = ":3000"

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 28

	cfg.Page.URL = "https://w0nder.land/s/epilogue"
	cfg.Page.TimeoutSecs = 10

	cfg.Fonts.Dir = "public/fonts"
	cfg.Fonts.Family = "Pretendard"
	cfg.Fonts.RegularURL = "http://127.0.0.1:3000/fonts/Pretendard/Pretendard-Regular.subset.woff"
	cfg.Fonts.BoldURL = "http://127.0.0.1:3000/fonts/Pretendard/Pretendard-Bold.subset.woff"
	cfg.Fonts.TimeoutSecs = 10

	cfg.Render.Engine = EngineNative
	cfg.Render.TimeoutSecs = 15

	cfg.Cache.ImageCacheTTL = 24 * time.Hour
	cfg.Cache.RedisHost = "127.0.0.1:6379"
	cfg.Cache.ImageCacheDB = 1

	cfg.RateLimiter.Interval = time.Minute

	cfg.Limits.MaxHTMLBytes = 5 << 20
	cfg.Limits.MaxImageBytes = 10 << 20
	return cfg
}

// LoadConfig reads the file named by CONFIG_PATH (or config.yaml) and stores
// the result in AppConfig. A missing default file is not an error.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
			AppConfig = DefaultConfig()
			mustValidate(AppConfig)
			return AppConfig
		}
		path = defaultConfigPath
	}
	AppConfig = LoadFrom(path)
	return AppConfig
}

// LoadFrom reads the YAML file at path over DefaultConfig. It panics when the
// file cannot be read or a value is invalid.
func LoadFrom(path string) Config {
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("read config %s: %v", path, err))
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		panic(fmt.Sprintf("parse config %s: %v", path, err))
	}
	mustValidate(cfg)
	return cfg
}

// GetConfig returns the configuration loaded at startup.
func GetConfig() Config {
	return AppConfig
}

func mustValidate(cfg Config) {
	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}
}

// Validate reports the first invalid value in cfg.
func (cfg Config) Validate() error {
	if err := validateHTTPURL("page.url", cfg.Page.URL); err != nil {
		return err
	}
	if err := validateHTTPURL("fonts.regular_url", cfg.Fonts.RegularURL); err != nil {
		return err
	}
	if err := validateHTTPURL("fonts.bold_url", cfg.Fonts.BoldURL); err != nil {
		return err
	}
	if cfg.Fonts.Family == "" {
		return errors.New("fonts.family is empty")
	}
	if cfg.Page.RetryMax < 0 {
		return errors.New("page.retry_max must not be negative")
	}
	switch cfg.Render.Engine {
	case EngineNative, EngineChrome:
	default:
		return fmt.Errorf("render.engine %q is not one of %q, %q", cfg.Render.Engine, EngineNative, EngineChrome)
	}
	if cfg.Render.ChromePoolSize < 0 {
		return errors.New("render.chrome_pool_size must not be negative")
	}
	if cfg.Limits.MaxHTMLBytes <= 0 {
		return errors.New("limits.max_html_bytes must be positive")
	}
	if cfg.Limits.MaxImageBytes <= 0 {
		return errors.New("limits.max_image_bytes must be positive")
	}
	if cfg.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must not be negative")
	}
	if (cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0) && cfg.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive")
	}
	if cfg.Cache.ImageCacheEnabled && cfg.Cache.ImageCacheTTL <= 0 {
		return errors.New("cache.image_cache_ttl must be positive")
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%s must be an http or https URL, got %q", field, raw)
	}
	return nil
}
