package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HeaderRequestID 在请求与响应之间传递请求 ID。
const HeaderRequestID = "X-Request-ID"

// DiagnosticsPrefix 之下的路径不经过拦截层。
const DiagnosticsPrefix = "/-/"

// ProxyHandler 处理除诊断接口之外的所有请求，测试中可替换为假实现。
type ProxyHandler interface {
	Handle(fiber.Ctx, *OriginRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *OriginRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *OriginRoute) error {
	return f(c, route)
}

// AppOptions 汇集构造 Fiber app 所需的组件。
type AppOptions struct {
	Logger     *logrus.Logger
	Origin     *OriginRoute
	Proxy      ProxyHandler
	ListenPort int
}

const localRequestID = "_swcache_request_id"

// NewApp 构造 Fiber app：recover 与请求 ID 中间件在前，
// 诊断路径交给后续注册的路由，其余请求全部进入拦截层。
func NewApp(opts AppOptions) (*fiber.App, error) {
	switch {
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.Origin == nil:
		return nil, errors.New("origin route is required")
	case opts.Proxy == nil:
		return nil, errors.New("proxy handler is required")
	case opts.ListenPort <= 0:
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})
	app.Use(recover.New())
	app.Use(requestIDMiddleware)

	app.All("/*", func(c fiber.Ctx) error {
		if IsDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Proxy.Handle(c, opts.Origin)
	})
	return app, nil
}

// requestIDMiddleware 沿用客户端传入的合法 UUID，否则生成新的请求 ID。
func requestIDMiddleware(c fiber.Ctx) error {
	reqID := strings.TrimSpace(c.Get(HeaderRequestID))
	if _, err := uuid.Parse(reqID); err != nil {
		reqID = uuid.NewString()
	}
	c.Locals(localRequestID, reqID)
	c.Set(HeaderRequestID, reqID)
	return c.Next()
}

// errorHandler 把未处理的错误记录为 request_failed 并统一输出 JSON。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			code = strings.ToLower(strings.ReplaceAll(http.StatusText(fe.Code), " ", "_"))
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "request",
			"method":     c.Method(),
			"path":       string(c.Request().URI().Path()),
			"status":     status,
			"request_id": RequestID(c),
		}).Error("request_failed")
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

// HostHeader 返回请求携带的原始 Host（可带端口）。
func HostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return strings.TrimSpace(string(raw))
	}
	return c.Hostname()
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if reqID, ok := c.Locals(localRequestID).(string); ok {
		return reqID
	}
	return ""
}

// IsDiagnosticsPath 判断路径是否属于诊断接口。
func IsDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, DiagnosticsPrefix)
}
