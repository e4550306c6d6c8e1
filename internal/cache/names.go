package cache

import (
	"fmt"
	"strings"
)

// Role 描述仓库在版本内的职责。
type Role string

const (
	RoleStatic  Role = "static"
	RoleRuntime Role = "runtime"
)

// StoreName 是仓库的结构化名称，只有在写入存储时才序列化为字符串。
type StoreName struct {
	Prefix  string
	Role    Role
	Version string
}

// String 输出 <prefix>-<role>-<version>，与激活清理时比较的名称完全一致。
func (n StoreName) String() string {
	return n.Prefix + "-" + string(n.Role) + "-" + n.Version
}

// ParseStoreName 在已知前缀的前提下还原结构化名称；版本号本身可以包含 "-"。
func ParseStoreName(prefix, raw string) (StoreName, error) {
	rest, ok := strings.CutPrefix(raw, prefix+"-")
	if !ok {
		return StoreName{}, fmt.Errorf("store %q does not carry prefix %q", raw, prefix)
	}
	for _, role := range []Role{RoleStatic, RoleRuntime} {
		if version, ok := strings.CutPrefix(rest, string(role)+"-"); ok && version != "" {
			return StoreName{Prefix: prefix, Role: role, Version: version}, nil
		}
	}
	return StoreName{}, fmt.Errorf("store %q has no known role", raw)
}

// Generation 是一次版本发布对应的仓库集合，同一时刻只有一个 Generation 为当前版本。
type Generation struct {
	Prefix  string
	Version string
}

// Static 返回当前版本的静态仓库名称。
func (g Generation) Static() StoreName {
	return StoreName{Prefix: g.Prefix, Role: RoleStatic, Version: g.Version}
}

// Runtime 返回当前版本的运行时仓库名称。
func (g Generation) Runtime() StoreName {
	return StoreName{Prefix: g.Prefix, Role: RoleRuntime, Version: g.Version}
}

// Names 返回当前版本全部仓库的存储名称，顺序即查找顺序（static 优先）。
func (g Generation) Names() []string {
	return []string{g.Static().String(), g.Runtime().String()}
}

// IsCurrent 判断存储名称是否属于当前版本。
func (g Generation) IsCurrent(name string) bool {
	for _, current := range g.Names() {
		if name == current {
			return true
		}
	}
	return false
}

// IsZero 表示尚未有任何版本被激活。
func (g Generation) IsZero() bool {
	return g.Prefix == "" && g.Version == ""
}

func validStoreName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("store name required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid store name %q", name)
	}
	return nil
}
