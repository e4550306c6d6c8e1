package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/abogadovillegasminero-blip/bless/internal/config"
)

// ServiceName 写入每条日志的 service 字段。
const ServiceName = "swcache"

// InitLogger 按配置创建 JSON 日志：文件输出走 lumberjack 轮转，目录不可用时退回 stdout。
// 每条日志都会带上站点域名与缓存版本，便于多实例共用日志管道时区分来源。
func InitLogger(cfg *config.Config) (*logrus.Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置为空")
	}
	level, err := logrus.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := openOutput(cfg.Global)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(newServiceHook(cfg))

	// 第三方库经由全局 logrus 输出时保持同样的格式与去向。
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.Global.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

func openOutput(global config.GlobalConfig) (io.Writer, error) {
	if global.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(global.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   global.LogFilePath,
		MaxSize:    global.LogMaxSize,
		MaxBackups: global.LogMaxBackups,
		Compress:   global.LogCompress,
		LocalTime:  true,
	}, nil
}

// serviceHook 给每条日志补充固定的实例字段，调用方显式设置的同名字段优先。
type serviceHook struct {
	fields logrus.Fields
}

func newServiceHook(cfg *config.Config) *serviceHook {
	return &serviceHook{fields: logrus.Fields{
		"service":       ServiceName,
		"domain":        cfg.Origin.Domain,
		"cache_version": cfg.Cache.Version,
	}}
}

func (h *serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	for key, value := range h.fields {
		if _, exists := entry.Data[key]; !exists {
			entry.Data[key] = value
		}
	}
	return nil
}
