package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/abogadovillegasminero-blip/bless/internal/classify"
	"github.com/abogadovillegasminero-blip/bless/internal/logging"
	"github.com/abogadovillegasminero-blip/bless/internal/metrics"
	"github.com/abogadovillegasminero-blip/bless/internal/network"
	"github.com/abogadovillegasminero-blip/bless/internal/server"
)

const (
	headerPolicy  = "X-Swcache-Policy"
	headerOutcome = "X-Swcache-Outcome"

	outcomePassthrough        = "passthrough"
	outcomeNetworkUnavailable = "network_unavailable"
	outcomeMisdirected        = "misdirected_request"
)

var errStrategyPanic = errors.New("strategy panic")

// Handler 把 fiber 请求交给 Dispatcher，并负责把结果写回客户端。
type Handler struct {
	dispatcher *Dispatcher
	forwarder  *Forwarder
	logger     *logrus.Logger
	latency    *metrics.LatencyTracker
}

// NewHandler 组装拦截入口，latency 为空时不记录指标。
func NewHandler(dispatcher *Dispatcher, forwarder *Forwarder, logger *logrus.Logger, latency *metrics.LatencyTracker) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		dispatcher: dispatcher,
		forwarder:  forwarder,
		logger:     logger,
		latency:    latency,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	req := buildRequest(c, route)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.intercept(ctx, req)
	policy := string(result.Decision.Policy)
	setRequestIDHeader(c, requestID)

	switch {
	case errors.Is(err, errStrategyPanic):
		h.finish(req, result.Decision, "strategy_panic", requestID, 0, started, err)
		return h.writeError(c, fiber.StatusInternalServerError, "strategy_panic")
	case errors.Is(err, ErrStrategyMissing):
		h.finish(req, result.Decision, "strategy_missing", requestID, 0, started, err)
		return h.writeError(c, fiber.StatusInternalServerError, "strategy_missing")
	case err != nil:
		c.Set(headerPolicy, policy)
		h.finish(req, result.Decision, outcomeNetworkUnavailable, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, outcomeNetworkUnavailable)
	}

	c.Set(headerPolicy, policy)
	if result.Response == nil {
		if !route.SameOrigin(server.HostHeader(c)) {
			// 跨源请求只能由客户端自行获取，服务端不代为转发。
			c.Set(headerOutcome, outcomeMisdirected)
			h.finish(req, result.Decision, outcomeMisdirected, requestID, fiber.StatusMisdirectedRequest, started, nil)
			return h.writeError(c, fiber.StatusMisdirectedRequest, outcomeMisdirected)
		}
		status, fwdErr := h.forwarder.Forward(c, route, req)
		if fwdErr != nil && status == 0 {
			h.finish(req, result.Decision, outcomeNetworkUnavailable, requestID, 0, started, fwdErr)
			return h.writeError(c, fiber.StatusBadGateway, outcomeNetworkUnavailable)
		}
		h.finish(req, result.Decision, outcomePassthrough, requestID, status, started, fwdErr)
		return fwdErr
	}

	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	c.Set(headerOutcome, string(result.Outcome))
	c.Status(resp.StatusCode)
	h.finish(req, result.Decision, string(result.Outcome), requestID, resp.StatusCode, started, nil)
	return c.Send(resp.Body)
}

// intercept 调用分发器并把策略内的 panic 转为 errStrategyPanic。
func (h *Handler) intercept(ctx context.Context, req *network.Request) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Decision: h.dispatcher.Classify(req)}
			err = fmt.Errorf("%w: %v", errStrategyPanic, r)
		}
	}()
	return h.dispatcher.Intercept(ctx, req)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) finish(
	req *network.Request,
	decision classify.Decision,
	outcome string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	elapsed := time.Since(started)
	h.latency.Record(metrics.Operation(string(decision.Policy), outcome), elapsed)

	fields := logging.RequestFields(req.Method, req.URL.Path, string(decision.Policy), outcome)
	fields["action"] = "intercept"
	fields["reason"] = string(decision.Reason)
	fields["url"] = req.URL.String()
	fields["status"] = status
	fields["elapsed_ms"] = elapsed.Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("intercept_failed")
		return
	}
	h.logger.WithFields(fields).Info("intercept_complete")
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set(server.HeaderRequestID, requestID)
	}
}

// buildRequest 把 fiber 上下文转换为 network.Request：
// 同源请求映射到应用地址，跨源请求保持其自身主机，仅用于分类与日志。
func buildRequest(c fiber.Ctx, route *server.OriginRoute) *network.Request {
	host := server.HostHeader(c)
	path := requestPath(c)
	rawQuery := string(c.Request().URI().QueryString())

	var target *url.URL
	if route.SameOrigin(host) {
		target = route.TargetURL(path, rawQuery)
	} else {
		target = &url.URL{Scheme: c.Scheme(), Host: host, Path: path, RawQuery: rawQuery}
	}

	header := fiberHeadersAsHTTP(c)
	var body []byte
	if raw := c.Body(); len(raw) > 0 {
		body = append([]byte(nil), raw...)
	}

	return &network.Request{
		Method:   c.Method(),
		URL:      target,
		Header:   header,
		Body:     body,
		Navigate: classify.NavigationIntent(header),
	}
}

func requestPath(c fiber.Ctx) string {
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}
