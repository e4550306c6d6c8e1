package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

func TestCheckConfigWritesEventToRotatingLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "swcache.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = %q
StoragePath = %q
ListenPort = 5000

[Origin]
Domain = "bless.local"
Upstream = "http://127.0.0.1:8000"

[Cache]
Version = "v7"
`, logPath, filepath.Join(dir, "storage")))

	captureCLIOutput(t)
	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("check-config 应成功，得到 %d", code)
	}

	file, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("日志文件应已创建: %v", err)
	}
	defer file.Close()

	var entry map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("日志行应为 JSON: %v", err)
		}
		if line["action"] == "check_config" {
			entry = line
		}
	}
	if entry == nil {
		t.Fatalf("未找到 check_config 日志")
	}
	if entry["cache_version"] != "v7" || entry["service"] != "swcache" {
		t.Fatalf("日志应带实例字段，得到 %v", entry)
	}
	if entry["backend"] != "disk" {
		t.Fatalf("默认后端应为 disk，得到 %v", entry["backend"])
	}
}

func TestLoggingFallbackToStdout(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = %q
StoragePath = %q
ListenPort = 5000

[Origin]
Domain = "bless.local"
Upstream = "http://127.0.0.1:8000"
`, filepath.Join(blocked, "sub", "swcache.log"), filepath.Join(dir, "storage")))

	captureCLIOutput(t)
	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
}
