package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/abogadovillegasminero-blip/bless/internal/network"
	"github.com/abogadovillegasminero-blip/bless/internal/server"
)

var errForeignTarget = errors.New("forward target is not the upstream")

// Forwarder 负责同源 bypass 请求：原样转发到应用地址并流式写回，不触碰任何仓库。
type Forwarder struct {
	client *http.Client
}

// NewForwarder 创建透传转发器，client 为空时使用 http.DefaultClient。
func NewForwarder(client *http.Client) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Forwarder{client: client}
}

// Forward 把已映射到应用地址的 req 发往上游，返回上游状态码。
// 传输失败时返回错误且不写响应，由调用方统一输出 502。
func (f *Forwarder) Forward(c fiber.Ctx, route *server.OriginRoute, req *network.Request) (int, error) {
	if route == nil || route.UpstreamURL == nil || req.URL == nil || !strings.EqualFold(req.URL.Host, route.UpstreamURL.Host) {
		return 0, errForeignTarget
	}
	upstreamReq, err := f.buildRequest(c, route, req)
	if err != nil {
		return 0, err
	}

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return 0, &network.TransportError{Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		return resp.StatusCode, nil
	}
	if _, err := io.Copy(c.Response().BodyWriter(), resp.Body); err != nil {
		return resp.StatusCode, fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return resp.StatusCode, nil
}

func (f *Forwarder) buildRequest(c fiber.Ctx, route *server.OriginRoute, req *network.Request) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}

	network.CopyHeaders(upstreamReq.Header, req.Header)
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Header.Del("Host")
	upstreamReq.Host = req.URL.Host
	upstreamReq.Header.Set("X-Forwarded-Host", server.HostHeader(c))
	if ip := c.IP(); ip != "" {
		if prior := upstreamReq.Header.Get("X-Forwarded-For"); prior != "" {
			upstreamReq.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			upstreamReq.Header.Set("X-Forwarded-For", ip)
		}
	}
	upstreamReq.Header.Set("X-Forwarded-Proto", c.Scheme())
	if route != nil && route.ListenPort > 0 {
		upstreamReq.Header.Set("X-Forwarded-Port", fmt.Sprint(route.ListenPort))
	}
	return upstreamReq, nil
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if network.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
