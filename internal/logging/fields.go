package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ListenerFields 提供监听器类型与端口字段，供 server/gateway 日志复用。
func ListenerFields(kind string, port int) logrus.Fields {
	return logrus.Fields{
		"type": kind,
		"port": port,
	}
}

// RequestFields 提供单次请求的通用字段。
func RequestFields(kind, method, hostname, url, ip string) logrus.Fields {
	return logrus.Fields{
		"type":     kind,
		"method":   method,
		"hostname": hostname,
		"url":      url,
		"ip":       ip,
	}
}
