package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "ARCFLOW_CONFIG"

// Config 描述了 ArcFlow 在启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig      `json:"server"`
	Logging     LoggingConfig     `json:"logging"`
	Auth        AuthConfig        `json:"auth"`
	Classifier  ClassifierConfig  `json:"classifier"`
	Catalog     CatalogConfig     `json:"catalog"`
	Merchants   MerchantsConfig   `json:"merchants"`
	Procurement ProcurementConfig `json:"procurement"`
	Negotiation NegotiationConfig `json:"negotiation"`
	Settlement  SettlementConfig  `json:"settlement"`
	Audit       AuditConfig       `json:"audit"`
	Runtime     RuntimeConfig     `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制结算审计日志文件。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AuthConfig 控制结算接口的访问凭证。
type AuthConfig struct {
	// APIKey 为空时结算接口不做鉴权，仅建议在本地开发时使用。
	APIKey string `json:"api_key"`
	// APIKeyEnv 指定存放凭证的环境变量，优先级高于 APIKey。
	APIKeyEnv string `json:"api_key_env"`
}

// ClassifierConfig 配置意图分类与文档解析。
type ClassifierConfig struct {
	APIKey    string        `json:"api_key"`
	APIKeyEnv string        `json:"api_key_env"`
	BaseURL   string        `json:"base_url"`
	Model     string        `json:"model"`
	TimeoutMS int           `json:"timeout_ms"`
	Vision    VisionConfig  `json:"vision"`
	Timeouts  TimeoutConfig `json:"timeouts"`
}

// VisionConfig 配置文档意图解析。
type VisionConfig struct {
	Enabled   bool   `json:"enabled"`
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	TimeoutMS int    `json:"timeout_ms"`
}

// TimeoutConfig 控制编排阶段的时间预算。
type TimeoutConfig struct {
	OrchestrationMS int `json:"orchestration_ms"`
	ClassifyMS      int `json:"classify_ms"`
}

// CatalogConfig 控制商品目录来源。
type CatalogConfig struct {
	// Driver 支持 static、file 与 mysql。
	Driver string `json:"driver"`
	Path   string `json:"path"`
	DSN    string `json:"dsn"`
}

// MerchantsConfig 控制供应商注册表来源。
type MerchantsConfig struct {
	Path string `json:"path"`
}

// ProcurementConfig 控制选品行为。
type ProcurementConfig struct {
	MinTrustScore int `json:"min_trust_score"`
	MaxCategories int `json:"max_categories"`
}

// NegotiationConfig 控制议价模拟。
type NegotiationConfig struct {
	Enabled     bool    `json:"enabled"`
	Probability float64 `json:"probability"`
	Discounts   []int   `json:"discounts"`
}

// SettlementConfig 控制结算后端与安全策略。
type SettlementConfig struct {
	Whitelist       map[string]string `json:"whitelist"`
	BudgetCap       float64           `json:"budget_cap"`
	PrivateKey      string            `json:"private_key"`
	PrivateKeyEnv   string            `json:"private_key_env"`
	ChainConfigPath string            `json:"chain_config_path"`
	Chain           string            `json:"chain"`
	GasLimit        uint64            `json:"gas_limit"`
}

// AuditConfig 控制审计事件队列与归档。
type AuditConfig struct {
	// QueueDriver 支持 memory、redis 与 rabbitmq。
	QueueDriver string           `json:"queue_driver"`
	Workers     int              `json:"workers"`
	Redis       RedisQueueConfig `json:"redis"`
	RabbitMQ    RabbitMQConfig   `json:"rabbitmq"`
	// HistoryDriver 支持 memory 与 mysql。
	HistoryDriver string `json:"history_driver"`
	HistoryDSN    string `json:"history_dsn"`
}

// RedisQueueConfig 描述 Redis 审计队列连接。
type RedisQueueConfig struct {
	Address     string `json:"address"`
	Password    string `json:"password"`
	DB          int    `json:"db"`
	Queue       string `json:"queue"`
	BlockWaitMS int    `json:"block_wait_ms"`
}

// RabbitMQConfig 描述 RabbitMQ 审计队列连接。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Catalog.Driver == "" {
		c.Catalog.Driver = "static"
	}
	if c.Catalog.Path != "" && !filepath.IsAbs(c.Catalog.Path) {
		c.Catalog.Path = filepath.Join(baseDir, c.Catalog.Path)
	}
	if c.Merchants.Path != "" && !filepath.IsAbs(c.Merchants.Path) {
		c.Merchants.Path = filepath.Join(baseDir, c.Merchants.Path)
	}

	if c.Settlement.ChainConfigPath == "" {
		c.Settlement.ChainConfigPath = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Settlement.ChainConfigPath) {
		c.Settlement.ChainConfigPath = filepath.Join(baseDir, c.Settlement.ChainConfigPath)
	}

	if c.Audit.QueueDriver == "" {
		c.Audit.QueueDriver = "memory"
	}
	if c.Audit.Workers <= 0 {
		c.Audit.Workers = 1
	}
	if c.Audit.HistoryDriver == "" {
		c.Audit.HistoryDriver = "memory"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// OrchestrationTimeout 返回编排总超时。
func (c *ClassifierConfig) OrchestrationTimeout() time.Duration {
	if c.Timeouts.OrchestrationMS > 0 {
		return time.Duration(c.Timeouts.OrchestrationMS) * time.Millisecond
	}
	return 60 * time.Second
}

// ClassifyTimeout 返回分类阶段超时。
func (c *ClassifierConfig) ClassifyTimeout() time.Duration {
	if c.Timeouts.ClassifyMS > 0 {
		return time.Duration(c.Timeouts.ClassifyMS) * time.Millisecond
	}
	return 55 * time.Second
}

// ResolveAPIKey 返回分类器凭证，环境变量优先。
func (c *ClassifierConfig) ResolveAPIKey() string {
	if c.APIKeyEnv != "" {
		if key := os.Getenv(c.APIKeyEnv); key != "" {
			return key
		}
	}
	return c.APIKey
}

// ResolveAPIKey 返回文档解析凭证，环境变量优先。
func (c *VisionConfig) ResolveAPIKey() string {
	if c.APIKeyEnv != "" {
		if key := os.Getenv(c.APIKeyEnv); key != "" {
			return key
		}
	}
	return c.APIKey
}

// ResolveAPIKey 返回结算接口凭证，环境变量优先。
func (c *AuthConfig) ResolveAPIKey() string {
	if c.APIKeyEnv != "" {
		if key := os.Getenv(c.APIKeyEnv); key != "" {
			return key
		}
	}
	return c.APIKey
}
