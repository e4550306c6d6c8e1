package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"config_path": configPath,
	}
}

// RequestFields 提供 method/path/策略/结果来源字段，供拦截请求日志复用。
func RequestFields(method, path, policy, outcome string) logrus.Fields {
	return logrus.Fields{
		"method":  method,
		"path":    path,
		"policy":  policy,
		"outcome": outcome,
	}
}
