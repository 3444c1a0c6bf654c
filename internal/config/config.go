package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	// 服务器配置
	Server ServerConfig `yaml:"server"`

	// 入站鉴权配置
	Auth AuthConfig `yaml:"auth"`

	// Kagi 上游配置
	Kagi KagiConfig `yaml:"kagi"`

	// 搜索配置
	Search SearchConfig `yaml:"search"`

	// 代理配置
	Proxy ProxyConfig `yaml:"proxy"`

	// MCP 配置
	MCP MCPConfig `yaml:"mcp"`

	// 浏览器配置
	Browser BrowserConfig `yaml:"browser"`

	// 日志配置
	Log LogConfig `yaml:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Origin  string `yaml:"origin"`
}

// AuthConfig 入站 bearer token
type AuthConfig struct {
	AccessToken string `yaml:"access_token"`
}

// KagiConfig Kagi 会话与抓取参数
type KagiConfig struct {
	Token        string        `yaml:"token"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	PollAttempts int           `yaml:"poll_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SearchConfig 搜索配置
type SearchConfig struct {
	DefaultEngine string `yaml:"default_engine"`
	// 每秒允许的上游请求数，0 表示不限制
	RateLimit    float64       `yaml:"rate_limit"`
	RateBurst    int           `yaml:"rate_burst"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ProxyConfig 代理配置
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// MCPConfig MCP 协议配置
type MCPConfig struct {
	ServerName    string         `yaml:"server_name"`
	ServerVersion string         `yaml:"server_version"`
	Tools         MCPToolsConfig `yaml:"tools"`
}

// MCPToolsConfig MCP 工具描述配置
type MCPToolsConfig struct {
	SearchDescription string `yaml:"search_description"`
	FetchDescription  string `yaml:"fetch_description"`
	TimeDescription   string `yaml:"time_description"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless bool   `yaml:"headless"`
	ExecPath string `yaml:"exec_path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// envOverrides 环境变量覆盖项，优先级高于配置文件
type envOverrides struct {
	KagiToken    string `env:"KAGI_TOKEN"`
	AccessToken  string `env:"ACCESS_TOKEN"`
	Port         int    `env:"KAGIAPI_PORT"`
	LoggingLevel string `env:"LOGGING_LEVEL"`
	ExecPath     string `env:"CHROME_PATH"`
}

var (
	// ErrMissingKagiToken 未配置上游凭证
	ErrMissingKagiToken = errors.New("KAGI_TOKEN environment variable is not set")
	// ErrMissingAccessToken 未配置入站鉴权 token
	ErrMissingAccessToken = errors.New("ACCESS_TOKEN environment variable is not set")
)

// DefaultConfig 默认配置
var DefaultConfig = Config{
	Server: ServerConfig{
		Port:            8000,
		Host:            "0.0.0.0",
		ShutdownTimeout: 10 * time.Second,
		CORS: CORSConfig{
			Enabled: true,
			Origin:  "*",
		},
	},
	Kagi: KagiConfig{
		BaseURL:      "https://kagi.com",
		Timeout:      60 * time.Second,
		PollAttempts: 5,
		PollInterval: 500 * time.Millisecond,
	},
	Search: SearchConfig{
		DefaultEngine: "kagi",
		RateLimit:     0,
		RateBurst:     1,
		FetchTimeout:  30 * time.Second,
	},
	Proxy: ProxyConfig{
		Enabled: false,
		URL:     "http://127.0.0.1:7890",
	},
	MCP: MCPConfig{
		ServerName:    "kagi-search-proxy",
		ServerVersion: "1.0.0",
		Tools: MCPToolsConfig{
			SearchDescription: "Search the web with Kagi. Returns a JSON object whose data list holds title, url and snippet for each result.",
			FetchDescription:  "Fetch a web page by URL and return its content as Markdown.",
			TimeDescription:   "Get the current server time in ISO8601 format (UTC).",
		},
	},
	Browser: BrowserConfig{
		Headless: true,
	},
	Log: LogConfig{
		Level: "info",
	},
}

// configSearchPaths 配置文件搜索路径
var configSearchPaths = []string{
	"config.yaml",
	"config.yml",
	"configs/config.yaml",
	"configs/config.yml",
}

// Load 加载配置：默认值 -> YAML 文件 -> 环境变量
// 支持通过 CONFIG_FILE 环境变量指定配置文件路径
func Load() (*Config, error) {
	configPath := findConfigFile()
	if configPath == "" {
		log.Info().Msg("⚠️ No config file found, using defaults and environment")
		return LoadFromFile("")
	}
	log.Info().Str("path", configPath).Msg("📄 Loading configuration")
	return LoadFromFile(configPath)
}

// LoadFromFile 从指定路径加载配置，path 为空时只使用默认值和环境变量
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file failed: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file failed: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.validate()

	if cfg.Kagi.Token == "" {
		return nil, ErrMissingKagiToken
	}
	if cfg.Auth.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	return &cfg, nil
}

// applyEnv 使用环境变量覆盖配置
func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment failed: %w", err)
	}
	if o.KagiToken != "" {
		c.Kagi.Token = o.KagiToken
	}
	if o.AccessToken != "" {
		c.Auth.AccessToken = o.AccessToken
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.LoggingLevel != "" {
		c.Log.Level = o.LoggingLevel
	}
	if o.ExecPath != "" {
		c.Browser.ExecPath = o.ExecPath
	}
	return nil
}

// findConfigFile 查找配置文件
func findConfigFile() string {
	if envPath := os.Getenv("CONFIG_FILE"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		log.Warn().Str("path", envPath).Msg("⚠️ CONFIG_FILE not found, searching default paths")
	}

	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	workDir, _ := os.Getwd()

	searchDirs := []string{workDir}
	if execDir != "" && execDir != workDir {
		searchDirs = append(searchDirs, execDir)
	}

	for _, dir := range searchDirs {
		for _, name := range configSearchPaths {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}

// validate 验证并修正配置
func (c *Config) validate() {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		log.Warn().Int("port", c.Server.Port).Int("default", DefaultConfig.Server.Port).Msg("⚠️ Invalid port, using default")
		c.Server.Port = DefaultConfig.Server.Port
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfig.Server.Host
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultConfig.Server.ShutdownTimeout
	}
	if c.Server.CORS.Origin == "" {
		c.Server.CORS.Origin = DefaultConfig.Server.CORS.Origin
	}

	c.Kagi.BaseURL = strings.TrimRight(c.Kagi.BaseURL, "/")
	if c.Kagi.BaseURL == "" {
		c.Kagi.BaseURL = DefaultConfig.Kagi.BaseURL
	}
	if c.Kagi.Timeout <= 0 {
		c.Kagi.Timeout = DefaultConfig.Kagi.Timeout
	}
	if c.Kagi.PollAttempts <= 0 {
		c.Kagi.PollAttempts = DefaultConfig.Kagi.PollAttempts
	}
	if c.Kagi.PollInterval <= 0 {
		c.Kagi.PollInterval = DefaultConfig.Kagi.PollInterval
	}

	if c.Search.DefaultEngine == "" {
		c.Search.DefaultEngine = DefaultConfig.Search.DefaultEngine
	}
	if c.Search.RateLimit < 0 {
		log.Warn().Float64("rate_limit", c.Search.RateLimit).Msg("⚠️ Negative rate limit, disabling")
		c.Search.RateLimit = 0
	}
	if c.Search.RateBurst <= 0 {
		c.Search.RateBurst = DefaultConfig.Search.RateBurst
	}
	if c.Search.FetchTimeout <= 0 {
		c.Search.FetchTimeout = DefaultConfig.Search.FetchTimeout
	}

	if c.Proxy.Enabled && c.Proxy.URL == "" {
		log.Warn().Msg("⚠️ Proxy enabled but URL is empty, using default")
		c.Proxy.URL = DefaultConfig.Proxy.URL
	}

	if c.MCP.ServerName == "" {
		c.MCP.ServerName = DefaultConfig.MCP.ServerName
	}
	if c.MCP.ServerVersion == "" {
		c.MCP.ServerVersion = DefaultConfig.MCP.ServerVersion
	}
	if c.MCP.Tools.SearchDescription == "" {
		c.MCP.Tools.SearchDescription = DefaultConfig.MCP.Tools.SearchDescription
	}
	if c.MCP.Tools.FetchDescription == "" {
		c.MCP.Tools.FetchDescription = DefaultConfig.MCP.Tools.FetchDescription
	}
	if c.MCP.Tools.TimeDescription == "" {
		c.MCP.Tools.TimeDescription = DefaultConfig.MCP.Tools.TimeDescription
	}

	if _, err := zerolog.ParseLevel(normalizeLevel(c.Log.Level)); err != nil || c.Log.Level == "" {
		log.Warn().Str("level", c.Log.Level).Msg("⚠️ Invalid log level, using info")
		c.Log.Level = DefaultConfig.Log.Level
	}
}

// Print 打印配置信息，不输出任何 token
func (c *Config) Print() {
	log.Info().Str("base_url", c.Kagi.BaseURL).Dur("timeout", c.Kagi.Timeout).Msg("🔍 Kagi upstream")
	if c.Search.RateLimit > 0 {
		log.Info().Float64("rps", c.Search.RateLimit).Int("burst", c.Search.RateBurst).Msg("🚦 Upstream rate limit")
	}
	if c.Proxy.Enabled {
		log.Info().Str("proxy", c.Proxy.URL).Msg("🌐 Using proxy")
	} else {
		log.Info().Msg("🌐 No proxy configured")
	}
	if c.Server.CORS.Enabled {
		log.Info().Str("origin", c.Server.CORS.Origin).Msg("🔒 CORS enabled")
	} else {
		log.Info().Msg("🔒 CORS disabled")
	}
	log.Info().Str("name", c.MCP.ServerName).Str("version", c.MCP.ServerVersion).Msg("🔧 MCP Server")
	log.Info().Str("addr", c.Addr()).Msg("🖥️ Server will listen")
}

// Addr 监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel 解析后的日志级别
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(normalizeLevel(c.Log.Level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// normalizeLevel 兼容 WARNING / CRITICAL / NOTSET 这类写法
func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "warning":
		return "warn"
	case "critical":
		return "fatal"
	case "notset":
		return "trace"
	}
	return level
}

// GetProxyURL 获取代理 URL，未启用时返回空串
func (c *Config) GetProxyURL() string {
	if !c.Proxy.Enabled {
		return ""
	}
	return c.Proxy.URL
}
