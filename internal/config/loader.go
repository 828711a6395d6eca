package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 WEBGATE_SERVER_HTTPPORT。
const EnvPrefix = "WEBGATE"

// Load 读取并解析配置文件（TOML/YAML/JSON 由扩展名决定），同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyServerDefaults(&cfg.Server)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 为每个键注册默认值，AutomaticEnv 只会覆盖 viper 已知的键。
func setDefaults(v *viper.Viper) {
	v.SetDefault("Mode", string(ModeProduction))
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Metrics", false)
	v.SetDefault("MetricsPath", "/metrics")
	v.SetDefault("ShutdownTimeout", "10s")

	v.SetDefault("Server.type", string(ServerTypeHTTP))
	v.SetDefault("Server.host", "localhost")
	v.SetDefault("Server.httpPort", 3000)
	v.SetDefault("Server.httpsPort", 3000)
	v.SetDefault("Server.httpsCert", "")
	v.SetDefault("Server.httpsKey", "")
	v.SetDefault("Server.exclusive", false)
	v.SetDefault("Server.readableAll", false)
	v.SetDefault("Server.writableAll", false)
	v.SetDefault("Server.ipv6Only", false)
	v.SetDefault("Server.http2", false)
	v.SetDefault("Server.allowHTTP1", false)
	v.SetDefault("Server.health", false)
	v.SetDefault("Server.healthServerPort", 0)
	v.SetDefault("Server.behindTraefikWithCloudflareWarp", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if strings.TrimSpace(string(g.Mode)) == "" {
		g.Mode = ModeProduction
	}
	g.Mode = RuntimeMode(strings.ToLower(strings.TrimSpace(string(g.Mode))))
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.MetricsPath == "" {
		g.MetricsPath = "/metrics"
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(10 * time.Second)
	}
}

func applyServerDefaults(s *ServerConfig) {
	normalized := strings.ToLower(strings.TrimSpace(string(s.Type)))
	if normalized == "" {
		normalized = string(ServerTypeHTTP)
	}
	s.Type = ServerType(normalized)
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = "localhost"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
