package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML. The backend target
// is the only behavior-selecting setting; the rest is ambient wiring.
type FileConfig struct {
	BaseURL       string `yaml:"baseURL"`
	LogLevel      string `yaml:"logLevel"`
	SessionFile   string `yaml:"sessionFile"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	DeviceID      string `yaml:"deviceId"`
	CartItemPath  string `yaml:"cartItemPath"`
	WSPath        string `yaml:"wsPath"`
	PageSize      int    `yaml:"pageSize"`
}

// Load reads config from path (defaults to config.yaml), applies env
// overrides, fills defaults, and validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("STOREFRONT_BASE_URL"); v != "" {
		cfg.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_SESSION_FILE"); v != "" {
		cfg.SessionFile = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("STOREFRONT_DEVICE_ID"); v != "" {
		cfg.DeviceID = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_CART_ITEM_PATH"); v != "" {
		cfg.CartItemPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_WS_PATH"); v != "" {
		cfg.WSPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.PageSize = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.SessionFile == "" {
		cfg.SessionFile = "session.json"
	}
	// The backend contract drifted between /cart/{id} and /cart/items/{id};
	// the exact form stays a config detail rather than a hard-coded path.
	if cfg.CartItemPath == "" {
		cfg.CartItemPath = "/cart/%s"
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 12
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return errors.New("config: baseURL is required (set in config.yaml or STOREFRONT_BASE_URL)")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("config: baseURL must be an http(s) URL, got %q", cfg.BaseURL)
	}
	if !strings.Contains(cfg.CartItemPath, "%s") {
		return fmt.Errorf("config: cartItemPath must contain a %%s placeholder, got %q", cfg.CartItemPath)
	}
	return nil
}
