package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Hopper    HopperConfig    `mapstructure:"hopper"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	SerialLog SerialLogConfig `mapstructure:"serial_log"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// SerialConfig 串口配置
type SerialConfig struct {
	Driver       string        `mapstructure:"driver"` // tarm | bugst
	Port         string        `mapstructure:"port"`   // "auto" 表示自动选择第一个枚举到的串口
	BaudRate     int           `mapstructure:"baud_rate"`
	DataBits     int           `mapstructure:"data_bits"`
	StopBits     int           `mapstructure:"stop_bits"`
	Parity       string        `mapstructure:"parity"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ReadPoll     time.Duration `mapstructure:"read_poll"`
}

// HopperConfig 退币器配置
type HopperConfig struct {
	Address             int    `mapstructure:"address"`
	ByteOrder           string `mapstructure:"byte_order"` // msb | lsb
	Mode                string `mapstructure:"mode"`
	StrictChecksum      bool   `mapstructure:"strict_checksum"`
	AutoConnect         bool   `mapstructure:"auto_connect"`
	AutoMonitor         bool   `mapstructure:"auto_monitor"`
	PayoutRatePerMinute int    `mapstructure:"payout_rate_per_minute"`
	PayoutBurst         int    `mapstructure:"payout_burst"`
}

// MonitorConfig 状态监控配置
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StopStep     time.Duration `mapstructure:"stop_step"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
}

// SafetyConfig 出币安全阈值
type SafetyConfig struct {
	CoinCountThreshold      int  `mapstructure:"coin_count_threshold"`
	PaidMultiplierThreshold int  `mapstructure:"paid_multiplier_threshold"`
	AutoStop                bool `mapstructure:"auto_stop"`
}

// SerialLogConfig 串口通信日志配置
type SerialLogConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化全局配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		var nv *viper.Viper
		var c *Config
		nv, c, err = load(configPath)
		if err != nil {
			return
		}
		mu.Lock()
		v, cfg = nv, c
		mu.Unlock()
	})

	return err
}

// Load 读取配置并返回新实例，不影响全局配置
func Load(configPath string) (*Config, error) {
	_, c, err := load(configPath)
	return c, err
}

func load(configPath string) (*viper.Viper, *Config, error) {
	nv := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		nv.SetConfigFile(configPath)
	} else {
		nv.SetConfigName("config")
		nv.SetConfigType("yaml")
		nv.AddConfigPath("./config")
		nv.AddConfigPath(".")
	}

	// 设置环境变量前缀
	nv.SetEnvPrefix("HOPPER")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()

	setDefaults(nv)

	if err := nv.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	c := &Config{}
	if err := nv.Unmarshal(c); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	return nv, c, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Hopper.Address < 0 || c.Hopper.Address > 0xFF {
		return fmt.Errorf("hopper.address out of range: %d", c.Hopper.Address)
	}
	switch strings.ToLower(c.Hopper.ByteOrder) {
	case "msb", "lsb":
	default:
		return fmt.Errorf("hopper.byte_order must be msb or lsb, got %q", c.Hopper.ByteOrder)
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive")
	}
	return nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/hopper.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	// WebSocket默认配置
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")

	// 串口默认配置 9600 8N1
	v.SetDefault("serial.driver", "tarm")
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.read_timeout", "2s")
	v.SetDefault("serial.write_timeout", "2s")
	v.SetDefault("serial.read_poll", "100ms")

	// 退币器默认配置
	v.SetDefault("hopper.address", 0x03)
	v.SetDefault("hopper.byte_order", "msb")
	v.SetDefault("hopper.mode", "intelligent")
	v.SetDefault("hopper.strict_checksum", false)
	v.SetDefault("hopper.auto_connect", false)
	v.SetDefault("hopper.auto_monitor", true)
	v.SetDefault("hopper.payout_rate_per_minute", 30)
	v.SetDefault("hopper.payout_burst", 3)

	// 状态监控
	v.SetDefault("monitor.poll_interval", "3s")
	v.SetDefault("monitor.stop_step", "100ms")
	v.SetDefault("monitor.query_timeout", "2s")
	v.SetDefault("monitor.error_backoff", "1s")
	v.SetDefault("monitor.stop_timeout", "2s")

	// 安全阈值
	v.SetDefault("safety.coin_count_threshold", 200)
	v.SetDefault("safety.paid_multiplier_threshold", 5)
	v.SetDefault("safety.auto_stop", false)

	// 串口通信日志
	v.SetDefault("serial_log.enabled", true)
	v.SetDefault("serial_log.buffer_size", 1000)
	v.SetDefault("serial_log.batch_size", 100)
	v.SetDefault("serial_log.flush_interval", "5s")
	v.SetDefault("serial_log.retention_days", 30)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "hopper.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Default 返回全部取默认值的配置
func Default() *Config {
	nv := viper.New()
	setDefaults(nv)
	c := &Config{}
	_ = nv.Unmarshal(c)
	return c
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置校验失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}

		fmt.Printf("配置已重新加载: %s\n", e.Name)
	})
}
