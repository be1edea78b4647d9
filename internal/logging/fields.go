package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求 ID、资源地址与所走路由，供代理请求日志复用。
func RequestFields(requestID, url, route string) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"url":        url,
		"route":      route,
	}
}

// StrategyFields 描述策略层事件，strategy 取值 cache_first / network_first。
func StrategyFields(action, strategy, url string) logrus.Fields {
	return logrus.Fields{
		"action":   action,
		"strategy": strategy,
		"url":      url,
	}
}
