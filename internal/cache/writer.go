package cache

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrStoreUnavailable 表示写入器未绑定任何仓库。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Writer 把"克隆后写入"的约束固定在一个仓库上：调用方拿到的响应与落盘的快照互不共享。
// 写入失败只记录日志，不影响返回给调用方的响应。
type Writer struct {
	registry Registry
	name     StoreName
	logger   *logrus.Logger
}

// NewWriter 构造绑定到 name 仓库的写入器，logger 为空时使用 logrus 标准实例。
func NewWriter(registry Registry, name StoreName, logger *logrus.Logger) Writer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return Writer{registry: registry, name: name, logger: logger}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w Writer) Enabled() bool {
	return w.registry != nil
}

// Put 打开仓库并写入 resp 的克隆，返回值仅用于测试断言。
func (w Writer) Put(ctx context.Context, key Key, resp *Response) error {
	if w.registry == nil {
		return ErrStoreUnavailable
	}
	store, err := w.registry.Open(ctx, w.name)
	if err == nil {
		err = store.Put(ctx, key, resp.Clone())
	}
	if err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_put",
			"store":  w.name.String(),
			"key":    key.String(),
		}).Warn("cache_put_failed")
	}
	return err
}
