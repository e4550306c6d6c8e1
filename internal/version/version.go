package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version/Commit 可在构建时通过 -ldflags 注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Revision 返回提交号：未注入时尝试读取构建信息中的 vcs.revision。
func Revision() string {
	if Commit != "dev" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) > 12 {
				return setting.Value[:12]
			}
			return setting.Value
		}
	}
	return Commit
}

// Full 返回 CLI 打印用的版本串。
func Full() string {
	return fmt.Sprintf("swcache %s (%s, %s)", Version, Revision(), runtime.Version())
}
