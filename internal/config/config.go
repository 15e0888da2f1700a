package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// FileName 是 cwd 下自动发现的配置文件名（可选）。
	FileName = "streamlux.json"

	DefaultPort          = 3001
	DefaultSnapshotPath  = "data/downloads.json"
	DefaultScrapeTimeout = 15 * time.Second
	MinScrapeTimeout     = 8 * time.Second
	MaxScrapeTimeout     = 15 * time.Second
	DefaultSniffTimeout  = 20 * time.Second
	DefaultNavTimeout    = 30 * time.Second
	DefaultSniffCacheTTL = time.Hour
)

// DefaultCORSOrigins 是未配置 CORS_ORIGINS 时允许的前端来源。
var DefaultCORSOrigins = []string{
	"https://streamlux.vercel.app",
	"https://streamlux-67a84.web.app",
	"https://streamlux-backend.onrender.com",
	"https://streamlux.onrender.com",
}

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息。
type CLIArgs struct {
	ConfigPath string

	Port    int
	PortSet bool

	SnapshotPath string
}

// FileConfig 对应 streamlux.json，同时承载环境变量覆盖（cleanenv 负责读取与默认值）。
// 时长字段用字符串（例如 "15s"），在合并阶段解析并校验。
type FileConfig struct {
	Host string `json:"host" env:"HOST" env-default:"0.0.0.0"`
	Port int    `json:"port" env:"PORT" env-default:"3001"`

	ChromePath  string `json:"chrome_path" env:"CHROME_PATH,PUPPETEER_EXECUTABLE_PATH"`
	ShowBrowser bool   `json:"show_browser" env:"SHOW_BROWSER"`

	SnapshotPath string `json:"snapshot_path" env:"SNAPSHOT_PATH" env-default:"data/downloads.json"`
	CacheDir     string `json:"cache_dir" env:"CACHE_DIR"`

	ScrapeConcurrency int      `json:"scrape_concurrency" env:"SCRAPE_CONCURRENCY"`
	ScrapeTimeout     string   `json:"scrape_timeout" env:"SCRAPE_TIMEOUT" env-default:"15s"`
	ProxyURLs         []string `json:"proxy_urls" env:"PROXY_URLS" env-separator:","`
	APIRate           float64  `json:"api_rate" env:"API_RATE" env-default:"2"`

	CORSOrigins   []string `json:"cors_origins" env:"CORS_ORIGINS" env-separator:","`
	PublicBaseURL string   `json:"public_base_url" env:"PUBLIC_BASE_URL"`

	SniffTimeout  string `json:"sniff_timeout" env:"SNIFF_TIMEOUT" env-default:"20s"`
	NavTimeout    string `json:"nav_timeout" env:"NAV_TIMEOUT" env-default:"30s"`
	SniffCacheTTL string `json:"sniff_cache_ttl" env:"SNIFF_CACHE_TTL" env-default:"1h"`

	LogLevel string `json:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费）。
type EffectiveConfig struct {
	Host string
	Port int

	ChromePath string
	Headless   bool

	SnapshotPath string
	CacheDir     string

	// ScrapeConcurrency=0 表示“与来源数量相同”。
	ScrapeConcurrency int
	ScrapeTimeout     time.Duration
	ProxyURLs         []string
	APIRate           float64

	CORSOrigins   []string
	PublicBaseURL string

	SniffTimeout  time.Duration
	NavTimeout    time.Duration
	SniffCacheTTL time.Duration

	LogLevel zerolog.Level

	// ConfigFile 为实际读取的配置文件（未读取文件时为空）。
	ConfigFile string
}

func (c EffectiveConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 提供 --config：该文件必须存在
// 2) 否则尝试 <cwd>/streamlux.json（可选）
// 3) 环境变量总是覆盖文件中的值
//
// 覆盖优先级：CLI > 环境变量 > 配置文件 > 内置默认
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	required := false
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	}

	var fc FileConfig
	used := ""
	if _, err := os.Stat(cfgPath); err == nil {
		if err := cleanenv.ReadConfig(cfgPath, &fc); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		used = cfgPath
	} else if os.IsNotExist(err) {
		if required {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		if err := cleanenv.ReadEnv(&fc); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: err}
		}
	} else {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	eff, err := merge(cwdAbs, cli, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: used, Err: err}
	}
	eff.ConfigFile = used
	return eff, nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	port := fc.Port
	if cli.PortSet {
		port = cli.Port
	}
	if port < 1 || port > 65535 {
		return EffectiveConfig{}, fmt.Errorf("port 超出范围：%d", port)
	}

	snapshot := fc.SnapshotPath
	if strings.TrimSpace(cli.SnapshotPath) != "" {
		snapshot = cli.SnapshotPath
	}
	if strings.TrimSpace(snapshot) == "" {
		snapshot = DefaultSnapshotPath
	}

	concurrency := fc.ScrapeConcurrency
	if concurrency < 0 {
		return EffectiveConfig{}, fmt.Errorf("scrape_concurrency 不能为负数：%d", concurrency)
	}
	if concurrency > 32 {
		concurrency = 32
	}

	scrapeTimeout, err := parseDuration("scrape_timeout", fc.ScrapeTimeout, DefaultScrapeTimeout)
	if err != nil {
		return EffectiveConfig{}, err
	}
	// 单个来源的请求超时限定在 [8s, 15s]。
	scrapeTimeout = min(max(scrapeTimeout, MinScrapeTimeout), MaxScrapeTimeout)

	sniffTimeout, err := parseDuration("sniff_timeout", fc.SniffTimeout, DefaultSniffTimeout)
	if err != nil {
		return EffectiveConfig{}, err
	}
	navTimeout, err := parseDuration("nav_timeout", fc.NavTimeout, DefaultNavTimeout)
	if err != nil {
		return EffectiveConfig{}, err
	}
	ttl, err := parseDuration("sniff_cache_ttl", fc.SniffCacheTTL, DefaultSniffCacheTTL)
	if err != nil {
		return EffectiveConfig{}, err
	}

	proxies := cleanList(fc.ProxyURLs)
	for _, p := range proxies {
		u, err := url.Parse(p)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, fmt.Errorf("proxy_urls 含无效地址：%q", p)
		}
	}

	origins := cleanList(fc.CORSOrigins)
	if len(origins) == 0 {
		origins = append([]string(nil), DefaultCORSOrigins...)
	}

	publicBase := strings.TrimRight(strings.TrimSpace(fc.PublicBaseURL), "/")
	if publicBase != "" {
		u, err := url.Parse(publicBase)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return EffectiveConfig{}, fmt.Errorf("public_base_url 必须是 http/https 绝对地址：%q", publicBase)
		}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(fc.LogLevel)))
	if err != nil {
		return EffectiveConfig{}, fmt.Errorf("log_level 无效：%w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if fc.APIRate < 0 {
		return EffectiveConfig{}, fmt.Errorf("api_rate 不能为负数：%v", fc.APIRate)
	}

	cacheDir := ""
	if strings.TrimSpace(fc.CacheDir) != "" {
		cacheDir = absCleanFrom(cwdAbs, fc.CacheDir)
	}

	return EffectiveConfig{
		Host:              strings.TrimSpace(fc.Host),
		Port:              port,
		ChromePath:        strings.TrimSpace(fc.ChromePath),
		Headless:          !fc.ShowBrowser,
		SnapshotPath:      absCleanFrom(cwdAbs, snapshot),
		CacheDir:          cacheDir,
		ScrapeConcurrency: concurrency,
		ScrapeTimeout:     scrapeTimeout,
		ProxyURLs:         proxies,
		APIRate:           fc.APIRate,
		CORSOrigins:       origins,
		PublicBaseURL:     publicBase,
		SniffTimeout:      sniffTimeout,
		NavTimeout:        navTimeout,
		SniffCacheTTL:     ttl,
		LogLevel:          level,
	}, nil
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s 无效：%w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s 必须为正数：%q", field, raw)
	}
	return d, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
