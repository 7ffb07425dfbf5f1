package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config 保存进程级配置（仅使用配置文件或内置默认值）。
// 字段提供开发友好的默认值；生产环境请在 config.yaml 中覆盖。
type Config struct {
	Env      string
	HTTPAddr string
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Session  SessionConfig
	Token    TokenConfig
	Feed     FeedConfig
	Media    MediaConfig
	Limits   LimitConfig
	Security SecurityConfig
	NATS     NATSConfig
	Errors   ErrorsConfig
}

// DatabaseConfig 选择关系型存储方言：mysql、postgres 或 sqlite。
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Params   string
	// SQLite 文件路径（driver=sqlite 时生效），":memory:" 表示内存库
	Path string
}

// DSN 按驱动拼接连接串。
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		port := d.Port
		if port == 0 {
			port = 5432
		}
		params := d.Params
		if params == "" {
			params = "sslmode=disable TimeZone=UTC"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s %s", d.host(), port, d.User, d.Password, d.dbName(), params)
	case "sqlite":
		if d.Path == "" {
			return "clonetwitter.db"
		}
		return d.Path
	default:
		port := d.Port
		if port == 0 {
			port = 3306
		}
		params := d.Params
		if params == "" {
			params = "parseTime=true&loc=UTC&charset=utf8mb4"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", d.User, d.Password, d.host(), port, d.dbName(), params)
	}
}

// DSNMasked 返回隐藏口令后的连接串，仅用于日志。
func (d DatabaseConfig) DSNMasked() string {
	masked := d
	if masked.Password != "" {
		masked.Password = "******"
	}
	return masked.DSN()
}

func (d DatabaseConfig) host() string {
	if d.Host == "" {
		return "127.0.0.1"
	}
	return d.Host
}

func (d DatabaseConfig) dbName() string {
	if d.DBName == "" {
		return "clonetwitter"
	}
	return d.DBName
}

type RedisConfig struct {
	Addr     string
	DB       int
	Password string
}

// CacheConfig 选择 feed 缓存后端：redis（默认）或 memory（单机进程内 LRU）。
type CacheConfig struct {
	Backend string
	// memory 后端的最大条目数
	MaxEntries int
}

type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite string // 取值：lax、strict、none
	TTL            time.Duration
	// securecookie 的 HMAC 密钥
	HashKey string
}

type TokenConfig struct {
	// HS256 签名密钥
	SigningKey      string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type FeedConfig struct {
	CacheTTL time.Duration
}

type MediaConfig struct {
	Root        string
	URLPrefix   string
	JPEGQuality int
	// 单个上传文件的最大字节数
	MaxUploadBytes int64
}

type LimitConfig struct {
	LoginPerMinute int
	Window         time.Duration
}

type SecurityConfig struct {
	HSTS struct {
		Enabled           bool
		MaxAgeSeconds     int
		IncludeSubdomains bool
	}
}

// NATSConfig 为空 URL 时不发布领域事件。
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type ErrorsConfig struct {
	// 为 true 时所有领域错误统一返回 400（兼容旧客户端）
	CompatFlat400 bool
}

// Load 生成配置：先使用内置默认值，再用同目录的配置文件（config.yaml/yml/json）覆盖。
func Load() Config {
	cfg := Default()
	if path := FirstExisting("config.yaml", "config.yml", "config.json"); path != "" {
		_ = LoadFile(path, &cfg)
	}
	return cfg
}

// Default 返回本地开发可直接运行的默认配置。
// 默认：MySQL 127.0.0.1:3306 用户 root/123456；Redis 127.0.0.1:6379 无密码。
func Default() Config {
	return Config{
		Env:      "dev",
		HTTPAddr: ":8000",
		Database: DatabaseConfig{Driver: "mysql", Host: "127.0.0.1", Port: 3306, User: "root", Password: "123456", DBName: "clonetwitter"},
		Redis:    RedisConfig{Addr: "127.0.0.1:6379"},
		Cache:    CacheConfig{Backend: "redis", MaxEntries: 10000},
		Session: SessionConfig{
			CookieName: "sessionid", CookieSameSite: "lax", TTL: 14 * 24 * time.Hour,
			HashKey: "dev-session-hash-key-change-me-please",
		},
		Token: TokenConfig{
			SigningKey: "dev-signing-key-change-me", Issuer: "clonetwitter",
			AccessTokenTTL: 2 * 24 * time.Hour, RefreshTokenTTL: 24 * time.Hour,
		},
		Feed:   FeedConfig{CacheTTL: 5 * time.Minute},
		Media:  MediaConfig{Root: "media", URLPrefix: "/media", JPEGQuality: 20, MaxUploadBytes: 10 << 20},
		Limits: LimitConfig{LoginPerMinute: 10, Window: time.Minute},
		Security: func() SecurityConfig {
			var s SecurityConfig
			s.HSTS.Enabled = true
			s.HSTS.MaxAgeSeconds = 31536000
			s.HSTS.IncludeSubdomains = true
			return s
		}(),
		NATS: NATSConfig{SubjectPrefix: "clonetwitter"},
	}
}

// LoadFile 读取 YAML 或 JSON 配置文件并覆盖 cfg 中的非零字段。
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var fm fileModel
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(b, &fm); err != nil {
			return err
		}
	} else if ext == ".json" || ext == "" {
		if err := json.Unmarshal(b, &fm); err != nil {
			return err
		}
	} else {
		return errors.New("unsupported config file format")
	}
	fm.apply(cfg)
	return nil
}

// --- 配置文件模型与合并逻辑 ---

type fileModel struct {
	Env      string        `yaml:"env" json:"env"`
	HTTPAddr string        `yaml:"http_addr" json:"http_addr"`
	Database *fileDatabase `yaml:"database" json:"database"`
	Redis    *fileRedis    `yaml:"redis" json:"redis"`
	Cache    *fileCache    `yaml:"cache" json:"cache"`
	Session  *fileSession  `yaml:"session" json:"session"`
	Token    *fileToken    `yaml:"token" json:"token"`
	Feed     *fileFeed     `yaml:"feed" json:"feed"`
	Media    *fileMedia    `yaml:"media" json:"media"`
	Limits   *fileLimits   `yaml:"limits" json:"limits"`
	Security *fileSecurity `yaml:"security" json:"security"`
	NATS     *fileNATS     `yaml:"nats" json:"nats"`
	Errors   *fileErrors   `yaml:"errors" json:"errors"`
}

type fileDatabase struct {
	Driver   string `yaml:"driver" json:"driver"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	DBName   string `yaml:"db" json:"db"`
	Params   string `yaml:"params" json:"params"`
	Path     string `yaml:"path" json:"path"`
}
type fileRedis struct {
	Addr     string `yaml:"addr" json:"addr"`
	DB       int    `yaml:"db" json:"db"`
	Password string `yaml:"password" json:"password"`
}
type fileCache struct {
	Backend    string `yaml:"backend" json:"backend"`
	MaxEntries int    `yaml:"max_entries" json:"max_entries"`
}
type fileSession struct {
	CookieName     string `yaml:"cookie_name" json:"cookie_name"`
	CookieDomain   string `yaml:"cookie_domain" json:"cookie_domain"`
	CookieSecure   *bool  `yaml:"cookie_secure" json:"cookie_secure"`
	CookieSameSite string `yaml:"cookie_samesite" json:"cookie_samesite"`
	TTL            string `yaml:"ttl" json:"ttl"`
	HashKey        string `yaml:"hash_key" json:"hash_key"`
}
type fileToken struct {
	SigningKey      string `yaml:"signing_key" json:"signing_key"`
	Issuer          string `yaml:"issuer" json:"issuer"`
	AccessTokenTTL  string `yaml:"access_token_ttl" json:"access_token_ttl"`
	RefreshTokenTTL string `yaml:"refresh_token_ttl" json:"refresh_token_ttl"`
}
type fileFeed struct {
	CacheTTL string `yaml:"cache_ttl" json:"cache_ttl"`
}
type fileMedia struct {
	Root           string `yaml:"root" json:"root"`
	URLPrefix      string `yaml:"url_prefix" json:"url_prefix"`
	JPEGQuality    int    `yaml:"jpeg_quality" json:"jpeg_quality"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" json:"max_upload_bytes"`
}
type fileLimits struct {
	LoginPerMinute int    `yaml:"login_per_minute" json:"login_per_minute"`
	Window         string `yaml:"window" json:"window"`
}
type fileSecurity struct {
	HSTS struct {
		Enabled           *bool `yaml:"enabled" json:"enabled"`
		MaxAge            int   `yaml:"max_age" json:"max_age"`
		IncludeSubdomains *bool `yaml:"include_subdomains" json:"include_subdomains"`
	} `yaml:"hsts" json:"hsts"`
}
type fileNATS struct {
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}
type fileErrors struct {
	CompatFlat400 *bool `yaml:"compat_flat_400" json:"compat_flat_400"`
}

// setDuration 仅在字符串可解析时覆盖目标值。
func setDuration(raw string, dst *time.Duration) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

func (fm *fileModel) apply(cfg *Config) {
	if fm.Env != "" {
		cfg.Env = fm.Env
	}
	if fm.HTTPAddr != "" {
		cfg.HTTPAddr = fm.HTTPAddr
	}
	if fm.Database != nil {
		if fm.Database.Driver != "" {
			cfg.Database.Driver = strings.ToLower(fm.Database.Driver)
		}
		if fm.Database.Host != "" {
			cfg.Database.Host = fm.Database.Host
		}
		if fm.Database.Port != 0 {
			cfg.Database.Port = fm.Database.Port
		}
		if fm.Database.User != "" {
			cfg.Database.User = fm.Database.User
		}
		if fm.Database.Password != "" {
			cfg.Database.Password = fm.Database.Password
		}
		if fm.Database.DBName != "" {
			cfg.Database.DBName = fm.Database.DBName
		}
		if fm.Database.Params != "" {
			cfg.Database.Params = fm.Database.Params
		}
		if fm.Database.Path != "" {
			cfg.Database.Path = fm.Database.Path
		}
	}
	if fm.Redis != nil {
		if fm.Redis.Addr != "" {
			cfg.Redis.Addr = fm.Redis.Addr
		}
		if fm.Redis.DB != 0 {
			cfg.Redis.DB = fm.Redis.DB
		}
		if fm.Redis.Password != "" {
			cfg.Redis.Password = fm.Redis.Password
		}
	}
	if fm.Cache != nil {
		if fm.Cache.Backend != "" {
			cfg.Cache.Backend = strings.ToLower(fm.Cache.Backend)
		}
		if fm.Cache.MaxEntries != 0 {
			cfg.Cache.MaxEntries = fm.Cache.MaxEntries
		}
	}
	if fm.Session != nil {
		if fm.Session.CookieName != "" {
			cfg.Session.CookieName = fm.Session.CookieName
		}
		if fm.Session.CookieDomain != "" {
			cfg.Session.CookieDomain = fm.Session.CookieDomain
		}
		if fm.Session.CookieSecure != nil {
			cfg.Session.CookieSecure = *fm.Session.CookieSecure
		}
		if fm.Session.CookieSameSite != "" {
			cfg.Session.CookieSameSite = fm.Session.CookieSameSite
		}
		setDuration(fm.Session.TTL, &cfg.Session.TTL)
		if fm.Session.HashKey != "" {
			cfg.Session.HashKey = fm.Session.HashKey
		}
	}
	if fm.Token != nil {
		if fm.Token.SigningKey != "" {
			cfg.Token.SigningKey = fm.Token.SigningKey
		}
		if fm.Token.Issuer != "" {
			cfg.Token.Issuer = fm.Token.Issuer
		}
		setDuration(fm.Token.AccessTokenTTL, &cfg.Token.AccessTokenTTL)
		setDuration(fm.Token.RefreshTokenTTL, &cfg.Token.RefreshTokenTTL)
	}
	if fm.Feed != nil {
		setDuration(fm.Feed.CacheTTL, &cfg.Feed.CacheTTL)
	}
	if fm.Media != nil {
		if fm.Media.Root != "" {
			cfg.Media.Root = fm.Media.Root
		}
		if fm.Media.URLPrefix != "" {
			cfg.Media.URLPrefix = fm.Media.URLPrefix
		}
		if fm.Media.JPEGQuality != 0 {
			cfg.Media.JPEGQuality = fm.Media.JPEGQuality
		}
		if fm.Media.MaxUploadBytes != 0 {
			cfg.Media.MaxUploadBytes = fm.Media.MaxUploadBytes
		}
	}
	if fm.Limits != nil {
		if fm.Limits.LoginPerMinute != 0 {
			cfg.Limits.LoginPerMinute = fm.Limits.LoginPerMinute
		}
		setDuration(fm.Limits.Window, &cfg.Limits.Window)
	}
	if fm.Security != nil {
		if fm.Security.HSTS.Enabled != nil {
			cfg.Security.HSTS.Enabled = *fm.Security.HSTS.Enabled
		}
		if fm.Security.HSTS.MaxAge != 0 {
			cfg.Security.HSTS.MaxAgeSeconds = fm.Security.HSTS.MaxAge
		}
		if fm.Security.HSTS.IncludeSubdomains != nil {
			cfg.Security.HSTS.IncludeSubdomains = *fm.Security.HSTS.IncludeSubdomains
		}
	}
	if fm.NATS != nil {
		if fm.NATS.URL != "" {
			cfg.NATS.URL = fm.NATS.URL
		}
		if fm.NATS.SubjectPrefix != "" {
			cfg.NATS.SubjectPrefix = fm.NATS.SubjectPrefix
		}
	}
	if fm.Errors != nil && fm.Errors.CompatFlat400 != nil {
		cfg.Errors.CompatFlat400 = *fm.Errors.CompatFlat400
	}
}

// FirstExisting 按顺序返回第一个存在的文件路径；若都不存在则返回空字符串。
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
