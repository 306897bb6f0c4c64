package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

const (
	CheckStatus       = "status"        // 站点完全不可用
	CheckHosting      = "hosting"       // 托管/网络故障
	CheckResponseTime = "response_time" // 后端响应时间（秒）
	CheckHTTPS        = "https"         // 未使用 HTTPS
	CheckFlapping     = "flapping"      // 间歇性可用

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// AvailabilityOptions HTTP 可用性探测参数
type AvailabilityOptions struct {
	Timeout          time.Duration
	RetryDelay       time.Duration
	SlowThreshold    time.Duration
	FlappingAttempts int
}

// AvailabilityProbe HTTP 可用性探测
type AvailabilityProbe struct {
	logger     *zap.Logger
	httpClient *http.Client
	opts       AvailabilityOptions
}

// NewHTTPClient 跳过证书校验的 HTTP 客户端，政务站点常用自签发证书
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
			DisableKeepAlives: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
}

func NewAvailabilityProbe(logger *zap.Logger, opts AvailabilityOptions) *AvailabilityProbe {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = 3 * time.Second
	}
	if opts.FlappingAttempts <= 0 {
		opts.FlappingAttempts = 3
	}
	return &AvailabilityProbe{
		logger:     logger,
		httpClient: NewHTTPClient(opts.Timeout),
		opts:       opts,
	}
}

func (p *AvailabilityProbe) Kind() Kind {
	return KindAvailability
}

func (p *AvailabilityProbe) Execute(ctx context.Context, target Target) (Result, error) {
	switch target.Check {
	case CheckHTTPS:
		isHTTPS := strings.HasPrefix(strings.ToLower(target.URL), "https://")
		protocol := "HTTP"
		if isHTTPS {
			protocol = "HTTPS"
		}
		return Result{ProblemDetected: !isHTTPS, Details: "Protocol: " + protocol}, nil
	case CheckFlapping:
		return p.flapping(ctx, target), nil
	}

	resp, err := p.fetch(ctx, target.URL)
	if err != nil {
		return Result{}, err
	}

	switch target.Check {
	case CheckResponseTime:
		seconds := math.Round(resp.elapsed.Seconds()*100) / 100
		state := "OK"
		if resp.elapsed > p.opts.SlowThreshold {
			state = "SLOW"
		}
		return Result{
			ProblemDetected: resp.elapsed > p.opts.SlowThreshold,
			Value:           float(seconds),
			Details:         fmt.Sprintf("Response time: %.2fs (%s)", resp.elapsed.Seconds(), state),
		}, nil
	case CheckHosting:
		return Result{
			ProblemDetected: resp.statusCode >= 500,
			Value:           float(float64(resp.statusCode)),
			Details:         fmt.Sprintf("Site accessible - Status: %d, Response time: %.2fs, Content size: %d bytes", resp.statusCode, resp.elapsed.Seconds(), resp.size),
		}, nil
	default:
		return Result{
			ProblemDetected: resp.statusCode >= 400,
			Value:           float(float64(resp.statusCode)),
			Details:         fmt.Sprintf("Status: %d, Response time: %.2fs, Server: %s", resp.statusCode, resp.elapsed.Seconds(), resp.server),
		}, nil
	}
}

type httpResponse struct {
	statusCode int
	elapsed    time.Duration
	size       int64
	server     string
}

// fetch 失败后按固定间隔重试一次 GET，仍失败时改用 HEAD
func (p *AvailabilityProbe) fetch(ctx context.Context, rawURL string) (*httpResponse, error) {
	b := &backoff.Backoff{
		Min:    p.opts.RetryDelay,
		Max:    p.opts.RetryDelay,
		Factor: 1,
	}
	methods := []string{http.MethodGet, http.MethodGet, http.MethodHead}

	var lastErr error
	for i, method := range methods {
		if i > 0 && p.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.Duration()):
			}
		}
		resp, err := p.do(ctx, method, rawURL)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		p.logger.Debug("HTTP 请求失败，准备重试",
			zap.String("url", rawURL),
			zap.String("method", method),
			zap.Int("attempt", i+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (p *AvailabilityProbe) do(ctx context.Context, method, rawURL string) (*httpResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	size, _ := io.Copy(io.Discard, resp.Body)
	return &httpResponse{
		statusCode: resp.StatusCode,
		elapsed:    time.Since(start),
		size:       size,
		server:     resp.Header.Get("Server"),
	}, nil
}

// flapping 连续请求多次，任意一次失败即认为间歇性可用
func (p *AvailabilityProbe) flapping(ctx context.Context, target Target) Result {
	attempts := p.opts.FlappingAttempts
	failures := 0
	var total time.Duration
	var reasons []string
	for i := 0; i < attempts; i++ {
		resp, err := p.do(ctx, http.MethodGet, target.URL)
		if err != nil {
			failures++
			if len(reasons) < 2 {
				reasons = append(reasons, fmt.Sprintf("attempt %d: %v", i+1, err))
			}
			continue
		}
		total += resp.elapsed
	}

	details := fmt.Sprintf("Tested %d times: %d successful", attempts, attempts-failures)
	if ok := attempts - failures; ok > 0 {
		details += fmt.Sprintf(" (avg %.2fs)", total.Seconds()/float64(ok))
	}
	if failures > 0 {
		details += fmt.Sprintf(", %d failed - [%s]", failures, strings.Join(reasons, ", "))
	}
	return Result{
		ProblemDetected: failures > 0,
		Value:           float(float64(failures)),
		Details:         details,
	}
}
