package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供缓存键与命中状态字段，供 fetch/refresh 日志复用。
func CacheFields(action, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"cache_key": key,
		"cache_hit": cacheHit,
	}
}

// RequestFields 提供请求级字段，供 HTTP 路由日志复用。
func RequestFields(requestID, method, path string) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
	}
}
