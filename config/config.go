package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type VisionTag struct {
	Name   string `toml:"name" mapstructure:"name"`
	Prompt string `toml:"prompt" mapstructure:"prompt"`
	Group  string `toml:"group" mapstructure:"group"`
}

type Vision struct {
	Enabled        bool    `toml:"enabled" mapstructure:"enabled"`
	Backend        string  `toml:"backend" mapstructure:"backend"`
	ModelID        string  `toml:"model_id" mapstructure:"model_id"`
	PromptTemplate string  `toml:"prompt_template" mapstructure:"prompt_template"`
	TopPerGroup    int     `toml:"top_per_group" mapstructure:"top_per_group"`
	Timeout        float64 `toml:"timeout" mapstructure:"timeout"`

	// onnx backend
	Libonnx        string `toml:"libonnx" mapstructure:"libonnx"`
	ModelDir       string `toml:"model_dir" mapstructure:"model_dir"`
	ModelFileName  string `toml:"model_file_name" mapstructure:"model_file_name"`
	EmbeddingsName string `toml:"embeddings_name" mapstructure:"embeddings_name"`
	Sessions       int    `toml:"sessions" mapstructure:"sessions"`

	// remote backend
	Endpoint string `toml:"endpoint" mapstructure:"endpoint"`
	APIToken string `toml:"api_token" mapstructure:"api_token"`

	Tags []VisionTag `toml:"tags" mapstructure:"tags"`
}

type Config struct {
	AppName    string `toml:"app_name" mapstructure:"app_name"`
	AppVersion string `toml:"app_version" mapstructure:"app_version"`
	Token      string `toml:"token" mapstructure:"token"`
	Host       string `toml:"host" mapstructure:"host"`
	Port       string `toml:"port" mapstructure:"port"`
	LogLevel   string `toml:"log_level" mapstructure:"log_level"`
	LogFormat  string `toml:"log_format" mapstructure:"log_format"`

	MaxUploadMB     int     `toml:"max_upload_mb" mapstructure:"max_upload_mb"`
	DownloadTimeout float64 `toml:"download_timeout" mapstructure:"download_timeout"`
	DownloadMaxMB   int     `toml:"download_max_mb" mapstructure:"download_max_mb"`
	TagMaxResults   int     `toml:"tag_max_results" mapstructure:"tag_max_results"`
	MaxImagePixels  int     `toml:"max_image_pixels" mapstructure:"max_image_pixels"`

	// Suggest requests per second across the process; 0 disables the limit.
	RateLimitRPS   float64 `toml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst" mapstructure:"rate_limit_burst"`

	Vision Vision `toml:"vision" mapstructure:"vision"`
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

func (c Config) DownloadMaxBytes() int64 {
	return int64(c.DownloadMaxMB) * 1024 * 1024
}

func (c Config) DownloadTimeoutDuration() time.Duration {
	return time.Duration(c.DownloadTimeout * float64(time.Second))
}

func (v Vision) TimeoutDuration() time.Duration {
	return time.Duration(v.Timeout * float64(time.Second))
}

// Default returns the built-in configuration used when no file or
// environment override is present.
func Default() Config {
	return Config{
		AppName:         "picture-ai-service",
		AppVersion:      "0.1.0",
		Host:            "0.0.0.0",
		Port:            "8000",
		LogLevel:        "info",
		LogFormat:       "text",
		MaxUploadMB:     15,
		DownloadTimeout: 5,
		DownloadMaxMB:   8,
		TagMaxResults:   8,
		MaxImagePixels:  89_478_485,
		Vision: Vision{
			Enabled:        false,
			Backend:        "onnx",
			ModelID:        "openai/clip-vit-base-patch32",
			PromptTemplate: "This photo mainly features {}.",
			TopPerGroup:    2,
			Timeout:        20,
			ModelDir:       "models",
			ModelFileName:  "vision.onnx",
			EmbeddingsName: "label_embeddings.json",
			Sessions:       2,
		},
	}
}

var (
	cfg      Config
	loadOnce sync.Once
)

func C() Config {
	loadOnce.Do(func() {
		path := os.Getenv("CONFIG_FILE")
		if path == "" {
			path = "config.toml"
		}
		loaded, err := Load(path)
		if err != nil {
			panic(err)
		}
		cfg = loaded
	})
	return cfg
}

// Load reads path on top of Default (a missing file is not an error),
// then applies environment overrides.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&c)
	c.normalize()
	return c, nil
}

func (c *Config) normalize() {
	c.TagMaxResults = max(1, c.TagMaxResults)
	c.Vision.TopPerGroup = max(1, c.Vision.TopPerGroup)
	c.Vision.Sessions = max(1, c.Vision.Sessions)
	c.Vision.Backend = strings.ToLower(strings.TrimSpace(c.Vision.Backend))
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = Default().MaxUploadMB
	}
	if c.DownloadMaxMB <= 0 {
		c.DownloadMaxMB = Default().DownloadMaxMB
	}
	c.RateLimitRPS = max(0, c.RateLimitRPS)
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		c.RateLimitBurst = max(1, int(c.RateLimitRPS))
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = Default().DownloadTimeout
	}
}

func applyEnv(c *Config) {
	envString("APP_NAME", &c.AppName)
	envString("APP_VERSION", &c.AppVersion)
	envString("HOST", &c.Host)
	envString("PORT", &c.Port)
	envString("API_TOKEN", &c.Token)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envInt("MAX_UPLOAD_MB", &c.MaxUploadMB)
	envFloat("IMAGE_DOWNLOAD_TIMEOUT", &c.DownloadTimeout)
	envInt("IMAGE_DOWNLOAD_MAX_MB", &c.DownloadMaxMB)
	envInt("TAG_MAX_RESULTS", &c.TagMaxResults)
	envInt("MAX_IMAGE_PIXELS", &c.MaxImagePixels)
	envFloat("RATE_LIMIT_RPS", &c.RateLimitRPS)
	envInt("RATE_LIMIT_BURST", &c.RateLimitBurst)

	envBool("VISION_ENABLED", &c.Vision.Enabled)
	envString("VISION_BACKEND", &c.Vision.Backend)
	envString("VISION_MODEL_ID", &c.Vision.ModelID)
	envString("VISION_PROMPT_TEMPLATE", &c.Vision.PromptTemplate)
	envInt("VISION_TOP_PER_GROUP", &c.Vision.TopPerGroup)
	envInt("VISION_SESSIONS", &c.Vision.Sessions)
	envString("VISION_ENDPOINT", &c.Vision.Endpoint)
	envString("VISION_API_TOKEN", &c.Vision.APIToken)
	envString("VISION_MODEL_DIR", &c.Vision.ModelDir)
	envString("LIBONNX", &c.Vision.Libonnx)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}
