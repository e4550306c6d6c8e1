package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/abogadovillegasminero-blip/bless/internal/cache"
)

// HTTPFetcherOptions 控制传输失败时的重试行为，零值表示不重试。
type HTTPFetcherOptions struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// HTTPFetcher 使用共享 http.Client 获取响应，并把完整响应体读入快照。
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPFetcherOptions
}

// NewHTTPFetcher 构造 Fetcher，client 为空时使用 http.DefaultClient。
func NewHTTPFetcher(client *http.Client, opts HTTPFetcherOptions) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	return &HTTPFetcher{client: client, opts: opts}
}

// Fetch 发起请求；任何 HTTP 状态码都视为成功，仅传输失败会重试并最终包装为 *TransportError。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target := ""
	if req.URL != nil {
		target = req.URL.String()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.opts.InitialBackoff

	resp, err := backoff.Retry(ctx, func() (*cache.Response, error) {
		resp, err := f.do(ctx, req, target)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(f.opts.MaxRetries+1)))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		if IsTransportFailure(err) {
			return nil, err
		}
		return nil, &TransportError{Method: req.Method, URL: target, Err: err}
	}
	return resp, nil
}

func (f *HTTPFetcher) do(ctx context.Context, req *Request, target string) (*cache.Response, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, backoff.Permanent(&TransportError{Method: req.Method, URL: target, Err: err})
	}
	if req.Header != nil {
		CopyHeaders(httpReq.Header, req.Header)
	}
	// 快照需要原始字节，交给 Transport 自行协商压缩并解压。
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Host")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: target, Err: err}
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	if resp.Uncompressed {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}
	return &cache.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       payload,
	}, nil
}
