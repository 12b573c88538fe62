package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求路径、客户端与命中来源字段，供代理请求日志复用。
func RequestFields(method, path, clientID, source string, status int) logrus.Fields {
	return logrus.Fields{
		"method":    method,
		"path":      path,
		"client_id": clientID,
		"source":    source,
		"status":    status,
	}
}

// EventFields 描述一次 worker 生命周期事件（install/activate/fetch/push...）。
func EventFields(event, version string) logrus.Fields {
	return logrus.Fields{
		"action":        "worker_event",
		"event":         event,
		"cache_version": version,
	}
}
