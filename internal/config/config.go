package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/habitflow/internal/storage"
	"gopkg.in/yaml.v3"
)

// disabledPath 用于显式关闭某个后端
const disabledPath = "off"

// AppConfig 汇总运行服务与命令行工具所需的基础配置。
type AppConfig struct {
	ListenAddr      string
	Port            string
	GinMode         string
	DataDir         string
	PreferencesPath string
	LocalDBPath     string
	LegacyStorePath string
	CacheTTL        time.Duration
	RetryAttempts   int
	Platform        string
	AppVersion      string
	Timezone        string
	Location        *time.Location
}

// fileConfig 是 CONFIG_FILE 指向的 YAML 文件结构，字段均可省略
type fileConfig struct {
	Port            string `yaml:"port"`
	ListenAddr      string `yaml:"listen_addr"`
	GinMode         string `yaml:"gin_mode"`
	DataDir         string `yaml:"data_dir"`
	PreferencesPath string `yaml:"preferences_path"`
	LocalDBPath     string `yaml:"localdb_path"`
	LegacyStorePath string `yaml:"legacy_store_path"`
	CacheTTL        string `yaml:"cache_ttl"`
	RetryAttempts   int    `yaml:"storage_retry_attempts"`
	Platform        string `yaml:"platform"`
	AppVersion      string `yaml:"app_version"`
	Timezone        string `yaml:"timezone"`
}

func readFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// env 读取环境变量，未设置时回退到文件中的值
func env(key, fromFile string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(fromFile)
}

// Load 依次读取 CONFIG_FILE 与环境变量，环境变量优先，缺失项使用默认值。
func Load() (AppConfig, error) {
	var fc fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		parsed, err := readFileConfig(path)
		if err != nil {
			return AppConfig{}, err
		}
		fc = parsed
	}

	port := env("PORT", fc.Port)
	if port == "" {
		port = "8080"
	}

	listenAddr := env("LISTEN_ADDR", fc.ListenAddr)
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	ginMode := env("GIN_MODE", fc.GinMode)
	if ginMode == "" {
		ginMode = "release"
	}

	dataDir := env("DATA_DIR", fc.DataDir)
	if dataDir == "" {
		dataDir = "data"
	}

	preferencesPath := env("PREFERENCES_PATH", fc.PreferencesPath)
	if preferencesPath == "" {
		preferencesPath = filepath.Join(dataDir, "preferences.db")
	}

	localDBPath := env("LOCALDB_PATH", fc.LocalDBPath)
	if localDBPath == "" {
		localDBPath = filepath.Join(dataDir, "localdb")
	}

	legacyStorePath := env("LEGACY_STORE_PATH", fc.LegacyStorePath)
	if legacyStorePath == "" {
		legacyStorePath = filepath.Join(dataDir, "local-storage.json")
	}

	cacheTTL := storage.DefaultCacheTTL
	if raw := env("CACHE_TTL", fc.CacheTTL); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return AppConfig{}, fmt.Errorf("invalid CACHE_TTL %q", raw)
		}
		cacheTTL = parsed
	}

	retryAttempts := fc.RetryAttempts
	if raw := strings.TrimSpace(os.Getenv("STORAGE_RETRY_ATTEMPTS")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return AppConfig{}, fmt.Errorf("invalid STORAGE_RETRY_ATTEMPTS %q", raw)
		}
		retryAttempts = parsed
	}
	if retryAttempts <= 0 {
		retryAttempts = storage.DefaultRetryConfig().MaxAttempts
	}

	timezone := env("TIMEZONE", fc.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid TIMEZONE %q: %w", timezone, err)
	}

	return AppConfig{
		ListenAddr:      listenAddr,
		Port:            port,
		GinMode:         ginMode,
		DataDir:         dataDir,
		PreferencesPath: preferencesPath,
		LocalDBPath:     localDBPath,
		LegacyStorePath: legacyStorePath,
		CacheTTL:        cacheTTL,
		RetryAttempts:   retryAttempts,
		Platform:        env("PLATFORM", fc.Platform),
		AppVersion:      env("APP_VERSION", fc.AppVersion),
		Timezone:        timezone,
		Location:        location,
	}, nil
}

func enabled(path string) string {
	if strings.EqualFold(path, disabledPath) {
		return ""
	}
	return path
}

// Storage 返回存储注册表配置，值为 off 的路径对应的后端不参与选择
func (c AppConfig) Storage() storage.DefaultConfig {
	retry := storage.DefaultRetryConfig()
	retry.MaxAttempts = c.RetryAttempts
	return storage.DefaultConfig{
		PreferencesPath: enabled(c.PreferencesPath),
		LocalDBPath:     enabled(c.LocalDBPath),
		LegacyStorePath: enabled(c.LegacyStorePath),
		Options: storage.Options{
			CacheTTL: c.CacheTTL,
			Retry:    retry,
		},
	}
}
