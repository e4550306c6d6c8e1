package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// originField 拼接 Origin 段字段路径，例如 Origin.Upstream。
func originField(field string) string {
	return "Origin." + field
}

// cacheField 拼接 Cache 段字段路径，例如 Cache.Precache[0]。
func cacheField(field string) string {
	return "Cache." + field
}
