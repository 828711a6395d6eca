package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// 除 IPv4/IPv6 字面量外允许的 host 写法。
var allowedHosts = map[string]struct{}{
	"0.0.0.0":   {},
	"localhost": {},
	"127.0.0.1": {},
	"::":        {},
	"::1":       {},
}

const allowedHostList = "0.0.0.0/localhost/127.0.0.1/::/::1"

// maxHealthProbes 与健康检查注册表的容量一致。
const maxHealthProbes = 10

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	switch g.Mode {
	case ModeProduction, ModeDevelopment:
	default:
		return newFieldError("Global.Mode", "仅支持 production/development")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", err.Error())
	}
	if g.Metrics && !strings.HasPrefix(g.MetricsPath, "/") {
		return newFieldError("Global.MetricsPath", "必须以 / 开头")
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownTimeout", "必须大于 0")
	}

	if err := c.Server.Validate(); err != nil {
		return err
	}
	return validateHealthProbes(c.HealthProbes)
}

// validateHealthProbes 校验配置的上游探针：数量上限、键名与 http(s) 地址。
func validateHealthProbes(probes []HealthProbeConfig) error {
	if len(probes) > maxHealthProbes {
		return newFieldError("HealthProbe", fmt.Sprintf("最多 %d 个", maxHealthProbes))
	}
	for i, p := range probes {
		field := func(name string) string {
			return fmt.Sprintf("HealthProbe[%d].%s", i, name)
		}
		if strings.TrimSpace(p.Plugin) == "" {
			return newFieldError(field("plugin"), "不能为空")
		}
		if strings.TrimSpace(p.Name) == "" {
			return newFieldError(field("name"), "不能为空")
		}
		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return newFieldError(field("url"), "必须是 http(s) 绝对地址")
		}
		if p.Timeout.DurationValue() < 0 {
			return newFieldError(field("timeout"), "不能为负数")
		}
	}
	return nil
}

// Validate 校验监听器相关字段：类型、端口范围、host 白名单以及 HTTPS 证书。
func (s ServerConfig) Validate() error {
	switch s.Type {
	case ServerTypeHTTP, ServerTypeHTTPS:
	default:
		return newFieldError(serverField("type"), "仅支持 http/https")
	}
	if err := validatePort(serverField("httpPort"), s.HTTPPort); err != nil {
		return err
	}
	if err := validatePort(serverField("httpsPort"), s.HTTPSPort); err != nil {
		return err
	}
	if err := validatePort(serverField("healthServerPort"), s.HealthServerPort); err != nil {
		return err
	}
	if err := ValidateHost(s.Host); err != nil {
		return fmt.Errorf("%s: %w", serverField("host"), err)
	}
	if s.Type == ServerTypeHTTPS {
		if err := ValidateCertFiles(s.HTTPSCert, s.HTTPSKey); err != nil {
			return err
		}
	}
	return nil
}

// ValidateHost 允许固定白名单中的回环/任意地址，或任意合法的 IPv4/IPv6 字面量。
func ValidateHost(host string) error {
	if _, ok := allowedHosts[host]; ok {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	return fmt.Errorf("host 无效，应为 %s 或合法 IP 地址", allowedHostList)
}

// ValidateCertFiles 确认 HTTPS 证书与私钥路径已配置且文件存在。
func ValidateCertFiles(certPath, keyPath string) error {
	if err := validateFile(serverField("httpsCert"), certPath); err != nil {
		return err
	}
	return validateFile(serverField("httpsKey"), keyPath)
}

func validateFile(field, path string) error {
	if strings.TrimSpace(path) == "" {
		return newFieldError(field, "HTTPS 模式下不能为空")
	}
	info, err := os.Stat(path)
	if err != nil {
		return newFieldError(field, fmt.Sprintf("文件不可读: %s", path))
	}
	if info.IsDir() {
		return newFieldError(field, fmt.Sprintf("应为文件而不是目录: %s", path))
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 0 || port > 65535 {
		return newFieldError(field, "必须在 0-65535")
	}
	return nil
}
