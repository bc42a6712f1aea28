package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fansqz/sampsharp-debugger/utils"
	"github.com/sirupsen/logrus"
)

const (
	DefaultListenPort = "8889"
	DefaultLogFile    = "/var/sampsharp-debugger.log"
	DefaultLogLevel   = "info"
	// DefaultConnectTimeout 连接目标进程中调试代理的超时时间
	DefaultConnectTimeout = 30 * time.Second
)

// Config 调试适配器的配置
type Config struct {
	// ListenPort IDE连接的端口
	ListenPort string `toml:"listen_port"`
	LogFile    string `toml:"log_file"`
	LogLevel   string `toml:"log_level"`
	// ServerExecutable 服务器程序名称，为空时使用当前平台的默认名称
	ServerExecutable string `toml:"server_executable"`
	// DebuggerAddress 远程调试地址 host:port
	DebuggerAddress string `toml:"debugger_address"`
	// DynamicPort 调试端口被占用时使用下一个可用端口
	DynamicPort    bool     `toml:"dynamic_port"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	// Gamemode 默认的游戏模式入口
	Gamemode string `toml:"gamemode"`
	UsePTY   bool   `toml:"use_pty"`
	// DetectDeadlocks 打开锁顺序检测
	DetectDeadlocks bool `toml:"detect_deadlocks"`
}

// Duration toml中的时间，格式同time.ParseDuration
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default 默认配置
func Default() *Config {
	return &Config{
		ListenPort:      DefaultListenPort,
		LogFile:         DefaultLogFile,
		LogLevel:        DefaultLogLevel,
		DebuggerAddress: utils.LoopbackAddress(utils.DefaultDebuggerPort).String(),
		ConnectTimeout:  Duration{DefaultConnectTimeout},
	}
}

// Load 读取配置文件，文件中没有的字段保留默认值
// path为空或者文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}
	meta, err := toml.DecodeFile(path, config)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Infof("[config] %s not found, use default config", path)
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		logrus.Warnf("[config] unknown key %s in %s", key.String(), path)
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 检查配置
func (c *Config) Validate() error {
	if c.DebuggerAddress != "" {
		if _, err := utils.ParseDebuggerAddress(c.DebuggerAddress); err != nil {
			return err
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.ConnectTimeout.Duration < 0 {
		return fmt.Errorf("invalid connect timeout %s", c.ConnectTimeout.Duration)
	}
	return nil
}

// Encode 把配置写成toml
func (c *Config) Encode() (string, error) {
	var builder strings.Builder
	if err := toml.NewEncoder(&builder).Encode(c); err != nil {
		return "", err
	}
	return builder.String(), nil
}
