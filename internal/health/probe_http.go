package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Shared HTTP transport tunings，探针之间复用长连接。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          20,
	MaxIdleConnsPerHost:   2,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   ProbeTimeout,
	ExpectContinueTimeout: 1 * time.Second,
	DialContext: (&net.Dialer{
		Timeout:   ProbeTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewProbeClient 返回探针专用的 http.Client；timeout <= 0 时使用 ProbeTimeout。
func NewProbeClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = ProbeTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// HTTPProbe 请求 url，2xx 视为健康。client 为 nil 时使用 NewProbeClient(0)。
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = NewProbeClient(0)
	}
	return func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return false, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		}
		return true, nil
	}
}
