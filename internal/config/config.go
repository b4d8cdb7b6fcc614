package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailConfig 定义付款通知邮箱（IMAP）的连接与轮询配置
type MailConfig struct {
	Host         string        // IMAP 服务器地址
	Port         int           // IMAP 端口，默认 993
	Username     string        // 登录用户名
	Password     string        // 登录密码或应用专用密码
	UseSSL       bool          // 是否使用 TLS 连接，默认 true
	Folders      []string      // 依次尝试打开的文件夹列表，默认 "INBOX"
	PollInterval time.Duration // 两次成功扫描之间的固定间隔，默认 30s
	BackoffBase  time.Duration // 失败退避基础值，默认 10s
	BackoffMax   time.Duration // 失败退避上限，默认 10m
	FetchTimeout time.Duration // 连接与抓取操作超时，默认 30s
}

// ExtractorConfig 定义外部邮件字段提取器（子进程）配置
type ExtractorConfig struct {
	Command string        // 提取器可执行文件路径
	Args    []string      // 附加命令行参数
	Timeout time.Duration // 单次调用超时，默认 15s
}

// TopupConfig 定义充值请求的业务配置
type TopupConfig struct {
	Expiry      time.Duration // 充值码有效期，默认 30m
	GraceWindow time.Duration // 邮件时间相对过期时间的容忍窗口，默认 5m
	MaxPerUser  int           // 单个用户同时存在的待确认请求上限，默认 3
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，为空时使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
	Enabled  bool   // 是否启用 Redis 层，默认 false
}

// JWTConfig 定义 JWT 认证相关配置
type JWTConfig struct {
	Secret        string        // JWT 签名密钥，必须至少 32 字符
	Issuer        string        // JWT 签发者标识，默认 "coinup"
	AccessExpiry  time.Duration // 访问令牌有效期，默认 15 分钟
	RefreshExpiry time.Duration // 刷新令牌有效期，默认 7 天
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig    // HTTP 服务器配置
	Mail      MailConfig      // 付款邮箱轮询配置
	Extractor ExtractorConfig // 外部提取器配置
	Topup     TopupConfig     // 充值业务配置
	CORS      CORSConfig      // 跨域配置
	Log       LogConfig       // 日志配置
	Database  DatabaseConfig  // 数据库配置
	Redis     RedisConfig     // Redis 配置
	JWT       JWTConfig       // JWT 认证配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: COINUP_
// 例如: COINUP_SERVER_HOST, COINUP_MAIL_HOST, COINUP_JWT_SECRET
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("coinup")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mail.host", "")
	viper.SetDefault("mail.port", 993)
	viper.SetDefault("mail.username", "")
	viper.SetDefault("mail.password", "")
	viper.SetDefault("mail.use_ssl", true)
	viper.SetDefault("mail.folders", "INBOX")
	viper.SetDefault("mail.poll_interval", "30s")
	viper.SetDefault("mail.backoff_base", "10s")
	viper.SetDefault("mail.backoff_max", "10m")
	viper.SetDefault("mail.fetch_timeout", "30s")
	viper.SetDefault("extractor.command", "./parser/parse_email.py")
	viper.SetDefault("extractor.args", "")
	viper.SetDefault("extractor.timeout", "15s")
	viper.SetDefault("topup.expiry", "30m")
	viper.SetDefault("topup.grace_window", "5m")
	viper.SetDefault("topup.max_per_user", 3)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.issuer", "coinup")
	viper.SetDefault("jwt.access_expiry", "15m")
	viper.SetDefault("jwt.refresh_expiry", "168h")

	pollInterval, err := parseDurationKey("mail.poll_interval")
	if err != nil {
		return nil, err
	}
	backoffBase, err := parseDurationKey("mail.backoff_base")
	if err != nil {
		return nil, err
	}
	backoffMax, err := parseDurationKey("mail.backoff_max")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDurationKey("mail.fetch_timeout")
	if err != nil {
		return nil, err
	}
	extractorTimeout, err := parseDurationKey("extractor.timeout")
	if err != nil {
		return nil, err
	}
	topupExpiry, err := parseDurationKey("topup.expiry")
	if err != nil {
		return nil, err
	}
	graceWindow, err := parseDurationKey("topup.grace_window")
	if err != nil {
		return nil, err
	}

	folders := parseList(viper.GetString("mail.folders"))
	if len(folders) == 0 {
		folders = []string{"INBOX"}
	}

	maxPerUser := viper.GetInt("topup.max_per_user")
	if maxPerUser <= 0 {
		maxPerUser = 3
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	accessExpiry, err := time.ParseDuration(viper.GetString("jwt.access_expiry"))
	if err != nil {
		accessExpiry = 15 * time.Minute
	}

	refreshExpiry, err := time.ParseDuration(viper.GetString("jwt.refresh_expiry"))
	if err != nil {
		refreshExpiry = 7 * 24 * time.Hour
	}

	jwtSecret := viper.GetString("jwt.secret")

	// 安全检查：禁止使用默认的 JWT secret
	if jwtSecret == "change-me-in-production" {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set COINUP_JWT_SECRET environment variable")
	}

	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mail: MailConfig{
			Host:         viper.GetString("mail.host"),
			Port:         viper.GetInt("mail.port"),
			Username:     viper.GetString("mail.username"),
			Password:     viper.GetString("mail.password"),
			UseSSL:       viper.GetBool("mail.use_ssl"),
			Folders:      folders,
			PollInterval: pollInterval,
			BackoffBase:  backoffBase,
			BackoffMax:   backoffMax,
			FetchTimeout: fetchTimeout,
		},
		Extractor: ExtractorConfig{
			Command: viper.GetString("extractor.command"),
			Args:    parseList(viper.GetString("extractor.args")),
			Timeout: extractorTimeout,
		},
		Topup: TopupConfig{
			Expiry:      topupExpiry,
			GraceWindow: graceWindow,
			MaxPerUser:  maxPerUser,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Enabled:  viper.GetBool("redis.enabled"),
		},
		JWT: JWTConfig{
			Secret:        jwtSecret,
			Issuer:        viper.GetString("jwt.issuer"),
			AccessExpiry:  accessExpiry,
			RefreshExpiry: refreshExpiry,
		},
	}

	return cfg, nil
}

// parseDurationKey 解析时长类型的配置项，格式非法时返回错误
func parseDurationKey(key string) (time.Duration, error) {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 如果文件不存在则静默跳过；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
