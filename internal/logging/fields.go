package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 path/仓库/命中状态字段，供回源生命周期日志复用。
// role 取值 leader/waiter，repo 为空表示尚未选定上游。
func FetchFields(path, role, repo string, ordinal int, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"path":      path,
		"role":      role,
		"cache_hit": cacheHit,
	}
	if repo != "" {
		fields["repo"] = repo
		fields["repo_ordinal"] = ordinal
	}
	return fields
}
