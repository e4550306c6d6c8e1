package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend 标识仓库的持久化方式。
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendDisk   Backend = "disk"
	BackendSQLite Backend = "sqlite"
)

// DiskStoresDir 是 disk 后端在 StoragePath 下存放仓库目录的子目录；
// 激活清理只会扫描这里，StoragePath 下的其他文件（锁、日志、sqlite 库）不受影响。
const DiskStoresDir = "stores"

// OpenBackend 根据配置的后端类型构建 Registry，storagePath 对 memory 后端无意义。
func OpenBackend(backend Backend, storagePath string) (Registry, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(string(backend)))) {
	case BackendMemory:
		return NewMemoryRegistry(), nil
	case BackendDisk, "":
		if storagePath == "" {
			return nil, fmt.Errorf("storage path required")
		}
		return NewDiskRegistry(filepath.Join(storagePath, DiskStoresDir))
	case BackendSQLite:
		if err := os.MkdirAll(storagePath, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		return OpenSQLiteRegistry(filepath.Join(storagePath, SQLiteFileName))
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
}
