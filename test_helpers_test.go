package main

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abogadovillegasminero-blip/bless/internal/config"
)

// captureCLIOutput 在测试期间把 stdOut/stdErr 换成内存缓冲区。
func captureCLIOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = out, errOut
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out, errOut
}

// configFixture 返回 internal/config/testdata 下的配置样例；go test 以包目录为工作目录。
func configFixture(name string) string {
	return filepath.Join("internal", "config", "testdata", name)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// serviceConfig 构造指向 upstream 的磁盘后端配置，预缓存默认清单。
func serviceConfig(storage, upstream, version string) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      5000,
			StoragePath:     storage,
			StoreBackend:    "disk",
			InitialBackoff:  config.Duration(10 * time.Millisecond),
			UpstreamTimeout: config.Duration(2 * time.Second),
		},
		Origin: config.OriginConfig{Domain: "bless.local", Upstream: upstream},
		Cache: config.CacheConfig{
			Prefix:        "bless",
			Version:       version,
			Precache:      config.DefaultPrecache,
			RecoveryPath:  "/login",
			RecoveryScope: "all",
		},
	}
}
