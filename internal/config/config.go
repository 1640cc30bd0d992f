package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"poolserve/internal/api"
	"poolserve/internal/logger"
	"poolserve/internal/server"
	"poolserve/internal/worker"

	"gopkg.in/yaml.v3"
)

// DefaultWorkers はファイルで指定がない場合のワーカー数
const DefaultWorkers = 4

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Pool   PoolConfig   `yaml:"pool" json:"pool"`
	Admin  AdminConfig  `yaml:"admin" json:"admin"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// ServerConfig はラインサーバー設定
type ServerConfig struct {
	Addr           string `yaml:"addr" json:"addr"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
	MaxOpenConns   int    `yaml:"max_open_conns" json:"max_open_conns"`
	StaticDir      string `yaml:"static_dir" json:"static_dir"`
	SleepDelay     string `yaml:"sleep_delay" json:"sleep_delay"`
	ReadTimeout    string `yaml:"read_timeout" json:"read_timeout"`
}

// PoolConfig はワーカープール設定
type PoolConfig struct {
	Workers       int    `yaml:"workers" json:"workers"`
	QueueCapacity int    `yaml:"queue_capacity" json:"queue_capacity"`
	PanicPolicy   string `yaml:"panic_policy" json:"panic_policy"`
}

// AdminConfig は管理API設定（Addr が空なら無効）
type AdminConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	CORSOrigins    []string `yaml:"cors_origins" json:"cors_origins"`
	StatusInterval string   `yaml:"status_interval" json:"status_interval"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default はデフォルト設定を返す
func Default() *FileConfig {
	return &FileConfig{
		Server: ServerConfig{
			Addr:        "127.0.0.1:7878",
			SleepDelay:  "5s",
			ReadTimeout: "5s",
		},
		Pool: PoolConfig{
			Workers:     DefaultWorkers,
			PanicPolicy: worker.PanicRecover.String(),
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFile は設定ファイルを読み込む
// ファイルにないキーは Default の値のまま残る
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return config, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be positive: %w", worker.ErrInvalidSize)
	}
	if f.Pool.QueueCapacity < 0 {
		return fmt.Errorf("pool.queue_capacity must be non-negative")
	}
	if _, err := worker.ParsePanicPolicy(f.Pool.PanicPolicy); err != nil {
		return fmt.Errorf("pool.panic_policy: %w", err)
	}

	if f.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must be non-negative")
	}
	if f.Server.MaxOpenConns < 0 {
		return fmt.Errorf("server.max_open_conns must be non-negative")
	}
	if f.Server.StaticDir != "" {
		info, err := os.Stat(f.Server.StaticDir)
		if err != nil {
			return fmt.Errorf("server.static_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("server.static_dir: %s is not a directory", f.Server.StaticDir)
		}
	}

	durations := map[string]string{
		"server.sleep_delay":    f.Server.SleepDelay,
		"server.read_timeout":   f.Server.ReadTimeout,
		"admin.status_interval": f.Admin.StatusInterval,
	}
	for key, value := range durations {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if _, err := logger.ParseLevel(f.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// PoolConfig はFileConfigをworker.Configに変換する
// Observer と Logger は呼び出し側で設定する
func (f *FileConfig) PoolConfig() (worker.Config, error) {
	config := worker.DefaultConfig()
	config.Workers = f.Pool.Workers
	config.QueueCapacity = f.Pool.QueueCapacity

	policy, err := worker.ParsePanicPolicy(f.Pool.PanicPolicy)
	if err != nil {
		return config, fmt.Errorf("invalid panic policy: %w", err)
	}
	config.PanicPolicy = policy
	return config, nil
}

// ServerConfig はFileConfigをserver.Configに変換する
func (f *FileConfig) ServerConfig() (server.Config, error) {
	sc := f.Server
	config := server.DefaultConfig()

	if sc.Addr != "" {
		config.Addr = sc.Addr
	}
	config.MaxConnections = sc.MaxConnections
	config.MaxOpenConns = sc.MaxOpenConns
	if sc.StaticDir != "" {
		config.Pages = server.DirPages(sc.StaticDir)
	}
	if sc.SleepDelay != "" {
		d, err := parseDuration(sc.SleepDelay)
		if err != nil {
			return config, fmt.Errorf("invalid sleep delay: %w", err)
		}
		config.SleepDelay = d
	}
	if sc.ReadTimeout != "" {
		d, err := parseDuration(sc.ReadTimeout)
		if err != nil {
			return config, fmt.Errorf("invalid read timeout: %w", err)
		}
		config.ReadTimeout = d
	}
	return config, nil
}

// AdminEnabled は管理APIを起動するかを返す
func (f *FileConfig) AdminEnabled() bool {
	return f.Admin.Addr != ""
}

// AdminConfig はFileConfigをapi.Configに変換する
func (f *FileConfig) AdminConfig() (api.Config, error) {
	ac := f.Admin
	config := api.DefaultConfig()

	if ac.Addr != "" {
		config.Addr = ac.Addr
	}
	if len(ac.CORSOrigins) > 0 {
		config.CORSOrigins = ac.CORSOrigins
	}
	if ac.StatusInterval != "" {
		d, err := parseDuration(ac.StatusInterval)
		if err != nil {
			return config, fmt.Errorf("invalid status interval: %w", err)
		}
		config.StatusInterval = d
	}
	return config, nil
}

// LogLevel はログレベルを返す
func (f *FileConfig) LogLevel() (logger.Level, error) {
	return logger.ParseLevel(f.Log.Level)
}

// parseDuration は空文字を0として扱う
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative: %s", s)
	}
	return d, nil
}
