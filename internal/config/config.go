package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

const DefaultPath = "config.json"

type DatabaseConfig struct {
	Host               string `json:"host"`
	Port               uint64 `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	Database           string `json:"database"`
	UseTLS             bool   `json:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout"`
	Heartbeat          string `json:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size"`
}

// DirectoryConfig 用户目录配置，backend 可选 memory 或 mongo
type DirectoryConfig struct {
	Backend    string         `json:"backend"`
	BcryptCost int            `json:"bcrypt_cost"`
	CacheSize  int            `json:"cache_size"`
	CacheTTL   string         `json:"cache_ttl"`
	Database   DatabaseConfig `json:"database"`
}

type WebSocketConfig struct {
	Enable  bool   `json:"enable"`
	Address string `json:"address"`
	Path    string `json:"path"`
}

type Config struct {
	AppName        string          `json:"app_name"`
	AppPort        int             `json:"app_port"`
	DebugMode      bool            `json:"debug_mode"`
	LogPath        string          `json:"log_path"`
	ServerMode     string          `json:"server_mode"`
	ReactorWorkers int             `json:"reactor_workers"`
	MaxConnections int             `json:"max_connections"`
	ConnectTimeout string          `json:"connect_timeout"`
	OutboundQueue  int             `json:"outbound_queue"`
	Directory      DirectoryConfig `json:"directory"`
	WebSocket      WebSocketConfig `json:"websocket"`
}

var (
	config      Config
	initialized = false
	mu          sync.RWMutex
)

// DefaultConfig 返回首次生成配置文件时写入的默认值
func DefaultConfig() Config {
	return Config{
		AppName:        "life-stream-stomp",
		AppPort:        7777,
		LogPath:        "logs",
		ServerMode:     "tpc",
		ConnectTimeout: "30s",
		OutboundQueue:  1024,
		Directory: DirectoryConfig{
			Backend:    "memory",
			BcryptCost: 10,
			CacheSize:  256,
			CacheTTL:   "1h",
			Database: DatabaseConfig{
				Host:               "127.0.0.1",
				Port:               27017,
				Database:           "stomp",
				ConnectTimeout:     "10s",
				SocketTimeout:      "30s",
				ConnectIdleTimeout: "5m",
				OperationTimeout:   "5s",
				Heartbeat:          "10s",
				MinPoolSize:        1,
				MaxPoolSize:        16,
			},
		},
		WebSocket: WebSocketConfig{
			Address: ":7778",
			Path:    "/stomp",
		},
	}
}

func ReadConfig(path string) (Config, error) {
	bytes, err := os.ReadFile(path)

	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("unable to read configuration file %s: %w", path, err)
		}
		data, _ := json.MarshalIndent(DefaultConfig(), "", "\t")
		if writeErr := os.WriteFile(path, data, 0644); writeErr != nil {
			return config, fmt.Errorf("unable to create configuration file %s: %w", path, writeErr)
		}
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	loaded := DefaultConfig()
	if err = json.Unmarshal(bytes, &loaded); err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	mu.Lock()
	config = loaded
	initialized = true
	mu.Unlock()
	return loaded, nil
}

func GetConfig() (Config, error) {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return config, nil
	}
	mu.RUnlock()
	return ReadConfig(DefaultPath)
}

// SetConfig 替换当前配置（命令行参数覆盖文件配置时使用）
func SetConfig(c Config) {
	mu.Lock()
	defer mu.Unlock()
	config = c
	initialized = true
}
