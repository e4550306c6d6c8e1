package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/abogadovillegasminero-blip/bless/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientUsesOriginProxy(t *testing.T) {
	cfg := &config.Config{
		Origin: config.OriginConfig{Proxy: "http://proxy.internal:3128"},
	}

	client := NewUpstreamClient(cfg)
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	req, _ := http.NewRequest(http.MethodGet, "http://app.local/", nil)
	proxyURL, err := transport.Proxy(req)
	if err != nil {
		t.Fatalf("proxy func failed: %v", err)
	}
	if proxyURL == nil || proxyURL.Host != "proxy.internal:3128" {
		t.Fatalf("expected configured proxy, got %v", proxyURL)
	}
}
