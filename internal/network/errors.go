package network

import (
	"errors"
	"fmt"
)

// TransportError 表示请求未能得到任何 HTTP 响应（DNS、连接、超时等）。
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportFailure 判断 err 是否为传输层失败。
func IsTransportFailure(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
