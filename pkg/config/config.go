package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	Database struct {
		Driver   string `yaml:"driver"` // postgres | sqlite
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		SSLMode  string `yaml:"sslmode"`
		Path     string `yaml:"path"` // sqlite 文件路径

		MaxOpenConns int           `yaml:"max_open_conns"`
		MaxIdleConns int           `yaml:"max_idle_conns"`
		ConnMaxLife  time.Duration `yaml:"conn_max_lifetime"`
		MaxRetries   uint64        `yaml:"max_retries"`
	} `yaml:"database"`

	NATS struct {
		Enabled  bool   `yaml:"enabled"`
		URL      string `yaml:"url"`
		ClientID string `yaml:"client_id"`
	} `yaml:"nats"`

	Cache struct {
		Driver   string `yaml:"driver"` // memory | redis
		RedisURL string `yaml:"redis_url"`
	} `yaml:"cache"`

	API struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IngestRPS    float64       `yaml:"ingest_rps"`
		IngestBurst  int           `yaml:"ingest_burst"`
	} `yaml:"api"`

	Collector struct {
		Interval time.Duration `yaml:"interval"`
		Seed     uint64        `yaml:"seed"`
	} `yaml:"collector"`

	Monitoring Monitoring `yaml:"monitoring"`
}

// Monitoring 监控流水线参数
type Monitoring struct {
	WindowPolicy       string        `yaml:"window_policy"` // count | duration
	WindowSize         int           `yaml:"window_size"`
	WindowDuration     time.Duration `yaml:"window_duration"`
	MinSamples         int           `yaml:"min_samples"`
	TrendTimeout       time.Duration `yaml:"trend_timeout"`
	TrendCacheTTL      time.Duration `yaml:"trend_cache_ttl"`
	CriticalHealth     float64       `yaml:"critical_health"`
	PredictiveLookback time.Duration `yaml:"predictive_lookback"`
	RetentionDays      int           `yaml:"retention_days"`
	MaintenanceLead    int           `yaml:"maintenance_lead_days"`
	Thresholds         []Threshold   `yaml:"thresholds"`
}

// Threshold 阈值规则覆盖项，为空时使用内置规则表
type Threshold struct {
	AssetType  string  `yaml:"asset_type"`
	MetricType string  `yaml:"metric_type"`
	Measure    string  `yaml:"measure"` // value | change_percent
	Operator   string  `yaml:"operator"`
	Bound      float64 `yaml:"bound"`
	Severity   string  `yaml:"severity"`
}

// Default 返回默认配置
func Default() *Config {
	var cfg Config
	cfg.App.Name = "asset-radar"
	cfg.App.Env = "dev"
	cfg.Log.Level = "info"

	cfg.Database.Driver = "postgres"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.DBName = "asset_radar"
	cfg.Database.SSLMode = "disable"
	cfg.Database.Path = "asset_radar.db"
	cfg.Database.MaxOpenConns = 25
	cfg.Database.MaxIdleConns = 5
	cfg.Database.ConnMaxLife = 5 * time.Minute
	cfg.Database.MaxRetries = 3

	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.ClientID = "asset-radar"

	cfg.Cache.Driver = "memory"

	cfg.API.Port = "8080"
	cfg.API.ReadTimeout = 15 * time.Second
	cfg.API.WriteTimeout = 30 * time.Second
	cfg.API.IngestRPS = 500
	cfg.API.IngestBurst = 1000

	cfg.Collector.Interval = 5 * time.Second

	cfg.Monitoring = Monitoring{
		WindowPolicy:       "count",
		WindowSize:         50,
		WindowDuration:     24 * time.Hour,
		MinSamples:         5,
		TrendTimeout:       5 * time.Second,
		TrendCacheTTL:      30 * time.Second,
		CriticalHealth:     30,
		PredictiveLookback: 14 * 24 * time.Hour,
		RetentionDays:      90,
		MaintenanceLead:    3,
	}
	return &cfg
}

// LoadConfig 从文件加载配置，文件不存在时使用默认配置
func LoadConfig(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// 仅依赖环境变量
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	overrideFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("不支持的缓存驱动: %s", c.Cache.Driver)
	}
	m := c.Monitoring
	if m.WindowPolicy != "count" && m.WindowPolicy != "duration" {
		return fmt.Errorf("window_policy 必须为 count 或 duration")
	}
	if m.WindowSize <= 0 || m.MinSamples <= 0 {
		return fmt.Errorf("window_size 与 min_samples 必须大于0")
	}
	if m.MinSamples > m.WindowSize {
		return fmt.Errorf("min_samples(%d) 不能大于 window_size(%d)", m.MinSamples, m.WindowSize)
	}
	return nil
}

// overrideFromEnv 使用环境变量覆盖配置
func overrideFromEnv(config *Config) {
	if env := os.Getenv("APP_NAME"); env != "" {
		config.App.Name = env
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		config.App.Env = env
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		config.Log.Level = env
	}

	// 数据库配置
	if env := os.Getenv("DB_DRIVER"); env != "" {
		config.Database.Driver = env
	}
	if env := os.Getenv("DB_HOST"); env != "" {
		config.Database.Host = env
	}
	if env := os.Getenv("DB_PORT"); env != "" {
		if port, err := strconv.Atoi(env); err == nil && port > 0 {
			config.Database.Port = port
		}
	}
	if env := os.Getenv("DB_USER"); env != "" {
		config.Database.User = env
	}
	if env := os.Getenv("DB_PASSWORD"); env != "" {
		config.Database.Password = env
	}
	if env := os.Getenv("DB_NAME"); env != "" {
		config.Database.DBName = env
	}
	if env := os.Getenv("DB_SSLMODE"); env != "" {
		config.Database.SSLMode = env
	}

	// NATS配置
	if env := os.Getenv("NATS_URL"); env != "" {
		config.NATS.URL = env
	}
	if env := os.Getenv("NATS_ENABLED"); env != "" {
		if enabled, err := strconv.ParseBool(env); err == nil {
			config.NATS.Enabled = enabled
		}
	}

	if env := os.Getenv("REDIS_URL"); env != "" {
		config.Cache.Driver = "redis"
		config.Cache.RedisURL = env
	}

	// API配置
	if env := os.Getenv("API_PORT"); env != "" {
		config.API.Port = env
	}
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev" // 默认开发环境
	}

	return fmt.Sprintf("configs/%s/app.yaml", env)
}
