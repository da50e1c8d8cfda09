package config

import (
	"strings"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Solana   SolanaConfig   `mapstructure:"solana"`
	Issuance IssuanceConfig `mapstructure:"issuance"`
	Campaign CampaignConfig `mapstructure:"campaign"`
	Launch   LaunchConfig   `mapstructure:"launch"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Task     TaskConfig     `mapstructure:"task"`
	Log      LogConfig      `mapstructure:"log"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

type ServerConfig struct {
	Port            string `mapstructure:"port"`
	Mode            string `mapstructure:"mode"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // 秒
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, memory
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 分布式锁配置，未启用时使用进程内锁
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	LockTTL  int    `mapstructure:"lock_ttl"` // 秒
}

// SolanaConfig 链配置
type SolanaConfig struct {
	RpcUrl            string  `mapstructure:"rpc_url"`             // RPC节点URL
	Commitment        string  `mapstructure:"commitment"`          // confirmed, finalized
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // RPC限流
	Burst             int     `mapstructure:"burst"`
	MaxConcurrent     int64   `mapstructure:"max_concurrent"`   // 同时进行的RPC请求数
	TreasuryKey       string  `mapstructure:"treasury_key"`     // 平台金库私钥 (base58)
	ExplorerURL       string  `mapstructure:"explorer_url"`     // 区块浏览器地址前缀
	FeeMultiplier     uint64  `mapstructure:"fee_multiplier"`   // 手续费预留倍数
	FallbackReserve   uint64  `mapstructure:"fallback_reserve"` // 估算失败时的预留 (lamports)
	VerifyAttempts    int     `mapstructure:"verify_attempts"`
	VerifyInterval    int     `mapstructure:"verify_interval"` // 毫秒
	ConfirmAttempts   int     `mapstructure:"confirm_attempts"`
	ConfirmInterval   int     `mapstructure:"confirm_interval"` // 毫秒
}

// IssuanceConfig 发币服务配置
type IssuanceConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	MetadataURL    string  `mapstructure:"metadata_url"`
	Pool           string  `mapstructure:"pool"`
	Slippage       float64 `mapstructure:"slippage"`
	PriorityFee    float64 `mapstructure:"priority_fee"`
	RequestTimeout int     `mapstructure:"request_timeout"` // 秒
	MaxImageBytes  int64   `mapstructure:"max_image_bytes"`
}

// CampaignConfig 众筹参数，金额单位为SOL
type CampaignConfig struct {
	CreationFee     float64 `mapstructure:"creation_fee"`
	MinTarget       float64 `mapstructure:"min_target"`
	MaxTarget       float64 `mapstructure:"max_target"`
	MinContribution float64 `mapstructure:"min_contribution"`
	MaxContribution float64 `mapstructure:"max_contribution"`
}

// LaunchConfig 发币流程参数
type LaunchConfig struct {
	FeeRetainRatio      float64 `mapstructure:"fee_retain_ratio"`     // 平台保留的创建费比例
	SafetyBuffer        float64 `mapstructure:"safety_buffer"`        // SOL
	FundingTolerance    float64 `mapstructure:"funding_tolerance"`    // SOL
	DustThreshold       float64 `mapstructure:"dust_threshold"`       // SOL
	DistributionPercent float64 `mapstructure:"distribution_percent"` // 分发给接收方的供应量百分比
	SupplyPollAttempts  int     `mapstructure:"supply_poll_attempts"`
	SupplyPollInterval  int     `mapstructure:"supply_poll_interval"` // 毫秒
	MaxAttempts         int     `mapstructure:"max_attempts"`         // 自动重试上限
	StaleAfter          int     `mapstructure:"stale_after"`          // 秒
	RunTimeout          int     `mapstructure:"run_timeout"`          // 秒
}

type QueueConfig struct {
	Size int `mapstructure:"size"`
}

type TaskConfig struct {
	Interval int `mapstructure:"interval"` // 秒
}

type AdminConfig struct {
	Addresses []string `mapstructure:"addresses"` // 允许触发发币的管理员钱包
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

// Millis 把毫秒配置转换为 time.Duration
func Millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Seconds 把秒配置转换为 time.Duration
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// SetDefaults 设置默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 15)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "crowdfund")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 120)

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.requests_per_second", 8)
	v.SetDefault("solana.burst", 4)
	v.SetDefault("solana.max_concurrent", 4)
	v.SetDefault("solana.explorer_url", "https://solscan.io/token/")
	v.SetDefault("solana.fee_multiplier", 5)
	v.SetDefault("solana.fallback_reserve", 50000)
	v.SetDefault("solana.verify_attempts", 10)
	v.SetDefault("solana.verify_interval", 2000)
	v.SetDefault("solana.confirm_attempts", 30)
	v.SetDefault("solana.confirm_interval", 1000)

	v.SetDefault("issuance.base_url", "https://pumpportal.fun")
	v.SetDefault("issuance.metadata_url", "https://pump.fun/api/ipfs")
	v.SetDefault("issuance.pool", "pump")
	v.SetDefault("issuance.slippage", 10)
	v.SetDefault("issuance.priority_fee", 0.0005)
	v.SetDefault("issuance.request_timeout", 30)
	v.SetDefault("issuance.max_image_bytes", 5<<20)

	v.SetDefault("campaign.creation_fee", 0.05)
	v.SetDefault("campaign.min_target", 1)
	v.SetDefault("campaign.max_target", 500)
	v.SetDefault("campaign.min_contribution", 0.01)
	v.SetDefault("campaign.max_contribution", 100)

	v.SetDefault("launch.fee_retain_ratio", 0.3)
	v.SetDefault("launch.safety_buffer", 0.01)
	v.SetDefault("launch.funding_tolerance", 0.001)
	v.SetDefault("launch.dust_threshold", 0.001)
	v.SetDefault("launch.distribution_percent", 20)
	v.SetDefault("launch.supply_poll_attempts", 30)
	v.SetDefault("launch.supply_poll_interval", 2000)
	v.SetDefault("launch.max_attempts", 3)
	v.SetDefault("launch.stale_after", 600)
	v.SetDefault("launch.run_timeout", 900)

	v.SetDefault("queue.size", 2)
	v.SetDefault("task.interval", 60)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}

func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/crowdfund")

	// 设置默认值
	SetDefaults(v)

	// 自动读取环境变量，solana.rpc_url -> SOLANA_RPC_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
