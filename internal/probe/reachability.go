package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Reachability 调度前的可达性预检
type Reachability interface {
	Reachable(ctx context.Context, target Target) (bool, string)
}

// HTTPReachability 只要服务端有任何 HTTP 响应即视为可达
type HTTPReachability struct {
	httpClient *http.Client
}

func NewHTTPReachability(timeout time.Duration) *HTTPReachability {
	return &HTTPReachability{httpClient: NewHTTPClient(timeout)}
}

func (r *HTTPReachability) Reachable(ctx context.Context, target Target) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return false, fmt.Sprintf("create request failed: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()
	return true, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// ICMPReachability 使用 ICMP Echo 判断主机是否在线
type ICMPReachability struct {
	count   int
	timeout time.Duration
}

func NewICMPReachability(count int, timeout time.Duration) *ICMPReachability {
	if count <= 0 {
		count = 3
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ICMPReachability{count: count, timeout: timeout}
}

func (r *ICMPReachability) Reachable(ctx context.Context, target Target) (bool, string) {
	pinger, err := probing.NewPinger(target.Host())
	if err != nil {
		return false, fmt.Sprintf("create pinger failed: %v", err)
	}
	pinger.Count = r.count
	pinger.Timeout = r.timeout
	pinger.Interval = 100 * time.Millisecond

	// 先尝试非特权模式（UDP），失败后再用特权模式
	pinger.SetPrivileged(false)
	if err := pinger.RunWithContext(ctx); err != nil {
		pinger.SetPrivileged(true)
		if err := pinger.RunWithContext(ctx); err != nil {
			return false, fmt.Sprintf("ping failed: %v", err)
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return false, fmt.Sprintf("all %d ping attempts failed", r.count)
	}
	return true, fmt.Sprintf("%d/%d packets, %dms avg", stats.PacketsRecv, stats.PacketsSent, stats.AvgRtt.Milliseconds())
}

// ReachabilityFunc 函数适配器
type ReachabilityFunc func(ctx context.Context, target Target) (bool, string)

func (f ReachabilityFunc) Reachable(ctx context.Context, target Target) (bool, string) {
	return f(ctx, target)
}
