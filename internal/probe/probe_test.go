package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry(Func{K: KindDNS, F: func(ctx context.Context, target Target) (Result, error) {
		return Result{Details: target.Host()}, nil
	}})

	t.Run("已注册", func(t *testing.T) {
		result, err := registry.Execute(context.Background(), KindDNS, Target{URL: "https://example.gov/path"})
		require.NoError(t, err)
		assert.Equal(t, "example.gov", result.Details)
	})

	t.Run("未注册", func(t *testing.T) {
		_, err := registry.Execute(context.Background(), KindBrowser, Target{})
		assert.ErrorIs(t, err, kpierr.ErrUnknownProbeKind)
	})

	t.Run("探测错误被归类", func(t *testing.T) {
		registry.Register(Func{K: KindCertificate, F: func(ctx context.Context, target Target) (Result, error) {
			return Result{}, context.DeadlineExceeded
		}})
		_, err := registry.Execute(context.Background(), KindCertificate, Target{})
		assert.ErrorIs(t, err, kpierr.ErrProbeTimeout)
	})
}

func TestAvailabilityProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Header().Set("Server", "nginx")
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer server.Close()

	p := NewAvailabilityProbe(zap.NewNop(), AvailabilityOptions{Timeout: 2 * time.Second})

	t.Run("站点正常", func(t *testing.T) {
		result, err := p.Execute(context.Background(), Target{URL: server.URL, Check: CheckStatus})
		require.NoError(t, err)
		assert.False(t, result.ProblemDetected)
		assert.Equal(t, float64(200), *result.Value)
		assert.Contains(t, result.Details, "nginx")
	})

	t.Run("服务端错误", func(t *testing.T) {
		result, err := p.Execute(context.Background(), Target{URL: server.URL + "/down", Check: CheckStatus})
		require.NoError(t, err)
		assert.True(t, result.ProblemDetected)
	})

	t.Run("响应时间", func(t *testing.T) {
		result, err := p.Execute(context.Background(), Target{URL: server.URL, Check: CheckResponseTime})
		require.NoError(t, err)
		require.NotNil(t, result.Value)
		assert.Less(t, *result.Value, 2.0)
		assert.False(t, result.ProblemDetected)
	})

	t.Run("未使用 HTTPS", func(t *testing.T) {
		result, err := p.Execute(context.Background(), Target{URL: server.URL, Check: CheckHTTPS})
		require.NoError(t, err)
		assert.True(t, result.ProblemDetected)
	})

	t.Run("间歇性可用", func(t *testing.T) {
		result, err := p.Execute(context.Background(), Target{URL: server.URL, Check: CheckFlapping})
		require.NoError(t, err)
		assert.False(t, result.ProblemDetected)
		assert.Equal(t, float64(0), *result.Value)
	})
}

func TestAvailabilityProbeRetry(t *testing.T) {
	var gets, heads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		gets.Add(1)
		// 让 GET 超时
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	p := NewAvailabilityProbe(zap.NewNop(), AvailabilityOptions{
		Timeout:    100 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
	})
	result, err := p.Execute(context.Background(), Target{URL: server.URL, Check: CheckStatus})
	require.NoError(t, err)
	assert.False(t, result.ProblemDetected)
	assert.Equal(t, int32(2), gets.Load())
	assert.Equal(t, int32(1), heads.Load())
}

func TestAvailabilityProbeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	p := NewAvailabilityProbe(zap.NewNop(), AvailabilityOptions{Timeout: time.Second})
	_, err := p.Execute(context.Background(), Target{URL: addr, Check: CheckStatus})
	assert.Error(t, err)
}

func TestHTTPReachability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewHTTPReachability(time.Second)
	ok, details := r.Reachable(context.Background(), Target{URL: server.URL})
	assert.True(t, ok)
	assert.Equal(t, "HTTP 500", details)

	server.Close()
	ok, _ = r.Reachable(context.Background(), Target{URL: server.URL})
	assert.False(t, ok)
}

func TestAnalyzePage(t *testing.T) {
	opts := BrowserOptions{SlowThreshold: 5 * time.Second, HeavyThreshold: 5}

	t.Run("加载缓慢", func(t *testing.T) {
		result := AnalyzePage(CheckPageLoad, "https://a.gov", PageSnapshot{}, 6500*time.Millisecond, opts)
		assert.True(t, result.ProblemDetected)
		assert.Equal(t, 6.5, *result.Value)
	})

	t.Run("页面过大", func(t *testing.T) {
		result := AnalyzePage(CheckPageWeight, "https://a.gov", PageSnapshot{TransferBytes: 6 * 1024 * 1024}, time.Second, opts)
		assert.True(t, result.ProblemDetected)
		assert.Equal(t, 6.0, *result.Value)
	})

	t.Run("混合内容", func(t *testing.T) {
		s := PageSnapshot{HTTPResources: []string{"http://cdn.a.gov/x.js"}}
		assert.True(t, AnalyzePage(CheckMixedContent, "https://a.gov", s, time.Second, opts).ProblemDetected)
		assert.False(t, AnalyzePage(CheckMixedContent, "http://a.gov", s, time.Second, opts).ProblemDetected)
	})

	t.Run("跳转", func(t *testing.T) {
		assert.False(t, AnalyzePage(CheckRedirect, "https://a.gov", PageSnapshot{URL: "https://a.gov/"}, time.Second, opts).ProblemDetected)
		assert.True(t, AnalyzePage(CheckRedirect, "https://a.gov", PageSnapshot{URL: "https://evil.example/"}, time.Second, opts).ProblemDetected)
	})

	t.Run("隐私政策", func(t *testing.T) {
		assert.True(t, AnalyzePage(CheckPrivacyPolicy, "https://a.gov", PageSnapshot{}, time.Second, opts).ProblemDetected)
		assert.False(t, AnalyzePage(CheckPrivacyPolicy, "https://a.gov", PageSnapshot{PrivacyLinks: 1}, time.Second, opts).ProblemDetected)
	})
}

func TestInternalLinks(t *testing.T) {
	hrefs := []string{"/about", "#top", "https://a.gov/contact", "https://other.gov/x", "/about#team", "mailto:x@a.gov", "news"}
	links := InternalLinks("https://a.gov/home/", hrefs, 10)
	assert.Equal(t, []string{"https://a.gov/about", "https://a.gov/contact", "https://a.gov/home/news"}, links)

	assert.Len(t, InternalLinks("https://a.gov/", hrefs, 1), 1)
}

func TestAnalyzeAxe(t *testing.T) {
	result := AnalyzeAxe(AxeSummary{Violations: 3, Passes: 7, Critical: []string{"color-contrast (4 elements)"}}, 80)
	assert.True(t, result.ProblemDetected)
	assert.Equal(t, 70.0, *result.Value)
	assert.Contains(t, result.Details, "color-contrast")

	result = AnalyzeAxe(AxeSummary{Violations: 1, Passes: 9}, 80)
	assert.False(t, result.ProblemDetected)

	assert.Equal(t, 0.0, AxeSummary{}.Score())
}

func TestCoverage(t *testing.T) {
	assert.Equal(t, 100.0, coverage{}.Percent())
	assert.Equal(t, 75.0, coverage{Total: 4, OK: 3}.Percent())
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("dns")
	assert.True(t, ok)
	assert.Equal(t, KindDNS, k)
	_, ok = ParseKind("ftp")
	assert.False(t, ok)
	assert.True(t, errors.Is(kpierr.Wrap(kpierr.ErrUnknownProbeKind, &UnknownKindError{Kind: "ftp"}), kpierr.ErrUnknownProbeKind))
}
