package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite SqliteConfig `yaml:"sqlite"`

	Log LogConfig `yaml:"log"`

	Rate RateConfig `yaml:"rate"`

	Scan ScanConfig `yaml:"scan"`

	DevTools DevToolsConfig `yaml:"devtools"`
}

// SqliteConfig 数据库配置
type SqliteConfig struct {
	Dsn    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string   `yaml:"level"`
	Writer     []string `yaml:"writer"`
	File       string   `yaml:"file"`
	MaxSizeMB  int      `yaml:"maxSizeMB"`
	MaxBackups int      `yaml:"maxBackups"`
	MaxAgeDays int      `yaml:"maxAgeDays"`
}

// RateSource 单个金价数据源
type RateSource struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	PricePath string `yaml:"pricePath"`
	TimePath  string `yaml:"timePath"`
	Unit      string `yaml:"unit"`
}

// RateConfig 汇率服务配置
type RateConfig struct {
	Sources           []RateSource `yaml:"sources"`
	RefreshIntervalMS int          `yaml:"refreshIntervalMS"`
	TimeoutMS         int          `yaml:"timeoutMS"`
	MaxAgeMS          int          `yaml:"maxAgeMS"`
	Retries           int          `yaml:"retries"`
}

// ScanConfig 页面扫描配置
type ScanConfig struct {
	DebounceMS       int `yaml:"debounceMS"`
	IndicatorTTLMS   int `yaml:"indicatorTTLMS"`
	RequestTimeoutMS int `yaml:"requestTimeoutMS"`
}

// DevToolsConfig 浏览器调试协议配置
type DevToolsConfig struct {
	URL              string `yaml:"url"`
	ProcessTimeoutMS int    `yaml:"processTimeoutMS"`
	Workers          int    `yaml:"workers"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: SqliteConfig{
			Dsn:    "goldlens.sqlite3",
			Prefix: "goldlens_",
		},
		Log: LogConfig{
			Level:      "info",
			Writer:     []string{"console"},
			File:       "logs/goldlens.log",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Rate: RateConfig{
			Sources: []RateSource{
				{
					Name:      "gold-api",
					URL:       "https://api.gold-api.com/price/XAU",
					PricePath: "price",
					TimePath:  "updatedAt",
					Unit:      "ounce",
				},
				{
					Name:      "goldprice",
					URL:       "https://data-asg.goldprice.org/dbXRates/USD",
					PricePath: "items.0.xauPrice",
					Unit:      "ounce",
				},
			},
			RefreshIntervalMS: 15 * 60 * 1000,
			TimeoutMS:         5000,
			MaxAgeMS:          60 * 60 * 1000,
			Retries:           2,
		},
		Scan: ScanConfig{
			DebounceMS:       300,
			IndicatorTTLMS:   5000,
			RequestTimeoutMS: 3000,
		},
		DevTools: DevToolsConfig{
			URL:              "http://127.0.0.1:9222",
			ProcessTimeoutMS: 3000,
			Workers:          4,
		},
	}
}

// Load 从 yaml 文件加载配置，未出现的字段保留默认值
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.Rate.Sources) == 0 {
		return fmt.Errorf("rate.sources is empty")
	}
	for i, s := range c.Rate.Sources {
		if s.URL == "" || s.PricePath == "" {
			return fmt.Errorf("rate.sources[%d]: url and pricePath are required", i)
		}
		if s.Unit != "" && s.Unit != "ounce" && s.Unit != "gram" {
			return fmt.Errorf("rate.sources[%d]: unknown unit %q", i, s.Unit)
		}
	}
	if c.Scan.DebounceMS < 0 || c.Scan.IndicatorTTLMS < 0 || c.Scan.RequestTimeoutMS < 0 {
		return fmt.Errorf("scan timings must not be negative")
	}
	return nil
}
