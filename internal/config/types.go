package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// ServerType 决定应用路由挂载在哪一个监听器上。
type ServerType string

const (
	ServerTypeHTTP  ServerType = "http"
	ServerTypeHTTPS ServerType = "https"
)

// RuntimeMode 区分生产与开发运行模式，非生产模式会输出更多调试日志。
type RuntimeMode string

const (
	ModeProduction  RuntimeMode = "production"
	ModeDevelopment RuntimeMode = "development"
)

// IsProduction 表示当前是否运行在生产模式。
func (m RuntimeMode) IsProduction() bool {
	return m == ModeProduction
}

// GlobalConfig 描述进程级行为：运行模式、日志与指标输出。
type GlobalConfig struct {
	Mode            RuntimeMode `mapstructure:"Mode"`
	LogLevel        string      `mapstructure:"LogLevel"`
	LogFilePath     string      `mapstructure:"LogFilePath"`
	LogMaxSize      int         `mapstructure:"LogMaxSize"`
	LogMaxBackups   int         `mapstructure:"LogMaxBackups"`
	LogCompress     bool        `mapstructure:"LogCompress"`
	Metrics         bool        `mapstructure:"Metrics"`
	MetricsPath     string      `mapstructure:"MetricsPath"`
	ShutdownTimeout Duration    `mapstructure:"ShutdownTimeout"`
}

// ServerConfig 决定监听器的类型、地址、TLS 证书与 /health 行为。
// 加载完成后视为只读，不允许在运行期修改。
type ServerConfig struct {
	Type        ServerType `mapstructure:"type"`
	Host        string     `mapstructure:"host"`
	HTTPPort    int        `mapstructure:"httpPort"`
	HTTPSPort   int        `mapstructure:"httpsPort"`
	HTTPSCert   string     `mapstructure:"httpsCert"`
	HTTPSKey    string     `mapstructure:"httpsKey"`
	Exclusive   bool       `mapstructure:"exclusive"`
	ReadableAll bool       `mapstructure:"readableAll"`
	WritableAll bool       `mapstructure:"writableAll"`
	IPv6Only    bool       `mapstructure:"ipv6Only"`
	HTTP2       bool       `mapstructure:"http2"`
	AllowHTTP1  bool       `mapstructure:"allowHTTP1"`
	Health      bool       `mapstructure:"health"`
	// HealthServerPort 为 0 表示未设置，/health 挂在主监听器上。
	HealthServerPort int `mapstructure:"healthServerPort"`
	// BehindTraefikWithCloudflareWarp 开启 X-Is-Trusted / X-Real-Ip 信任网关。
	BehindTraefikWithCloudflareWarp bool `mapstructure:"behindTraefikWithCloudflareWarp"`
}

// HealthProbeConfig 声明一个由内置 HTTP 探针检查的上游地址，键为 plugin-name。
type HealthProbeConfig struct {
	Plugin string `mapstructure:"plugin"`
	Name   string `mapstructure:"name"`
	URL    string `mapstructure:"url"`
	// Timeout 为 0 时使用探针默认超时。
	Timeout Duration `mapstructure:"timeout"`
}

// Config 是配置文件映射的整体结构。
type Config struct {
	Global       GlobalConfig        `mapstructure:",squash"`
	Server       ServerConfig        `mapstructure:"Server"`
	HealthProbes []HealthProbeConfig `mapstructure:"HealthProbe"`
}

// DedicatedHealth 表示 /health 是否运行在独立端口上。
func (s ServerConfig) DedicatedHealth() bool {
	return s.Health && s.HealthServerPort != 0
}

// ApplicationPort 返回承载应用路由的监听端口。
func (s ServerConfig) ApplicationPort() int {
	if s.Type == ServerTypeHTTP {
		return s.HTTPPort
	}
	return s.HTTPSPort
}
