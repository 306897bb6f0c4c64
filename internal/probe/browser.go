package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const (
	CheckPageLoad      = "page_load"      // 页面加载时间（秒）
	CheckPageWeight    = "page_weight"    // 页面资源大小（MB）
	CheckMixedContent  = "mixed_content"  // HTTPS 页面引用 HTTP 资源
	CheckRedirect      = "redirect"       // 可疑跳转
	CheckPrivacyPolicy = "privacy_policy" // 缺少隐私政策链接
	CheckSearch        = "search"         // 缺少站内搜索
	CheckBrokenLinks   = "broken_links"   // 内部链接可用比例（%）

	CheckWCAG       = "wcag"        // axe-core 合规得分（%）
	CheckImageAlt   = "image_alt"   // 带 alt 的图片比例（%）
	CheckFormLabels = "form_labels" // 带 label 的表单控件比例（%）
)

// BrowserOptions 无头浏览器参数
type BrowserOptions struct {
	Bin             string
	Timeout         time.Duration
	SlowThreshold   time.Duration
	HeavyThreshold  float64 // MB
	AxeURL          string
	MinWCAGScore    float64
	MaxLinksToCheck int
}

// Browser 共享的无头浏览器实例，按需启动，断线后重连
type Browser struct {
	mu      sync.Mutex
	logger  *zap.Logger
	opts    BrowserOptions
	browser *rod.Browser
}

func NewBrowser(logger *zap.Logger, opts BrowserOptions) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = 5 * time.Second
	}
	if opts.HeavyThreshold <= 0 {
		opts.HeavyThreshold = 5
	}
	if opts.AxeURL == "" {
		opts.AxeURL = "https://cdnjs.cloudflare.com/ajax/libs/axe-core/4.9.1/axe.min.js"
	}
	if opts.MinWCAGScore <= 0 {
		opts.MinWCAGScore = 80
	}
	if opts.MaxLinksToCheck <= 0 {
		opts.MaxLinksToCheck = 10
	}
	return &Browser{logger: logger, opts: opts}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return b.browser, nil
		}
		_ = b.browser.Close()
		b.browser = nil
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("ignore-certificate-errors").
		Set("user-agent", userAgent)
	if b.opts.Bin != "" {
		l = l.Bin(b.opts.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	b.logger.Info("无头浏览器已启动")
	b.browser = browser
	return browser, nil
}

// Close 关闭浏览器
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

// open 打开页面并等待加载完成，返回加载耗时和释放函数
func (b *Browser) open(ctx context.Context, targetURL string) (*rod.Page, time.Duration, func(), error) {
	browser, err := b.connect()
	if err != nil {
		return nil, 0, nil, err
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, 0, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	release := func() {
		_ = page.Close()
		cancel()
	}
	page = page.Context(ctx)

	start := time.Now()
	if err := page.Navigate(targetURL); err != nil {
		release()
		return nil, 0, nil, err
	}
	if err := page.WaitLoad(); err != nil {
		release()
		return nil, 0, nil, err
	}
	return page, time.Since(start), release, nil
}

func evalInto(page *rod.Page, js string, v any) error {
	res, err := page.Eval(js)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// PageSnapshot 页面加载后采集的信息
type PageSnapshot struct {
	URL           string   `json:"url"`
	HTMLBytes     float64  `json:"htmlBytes"`
	TransferBytes float64  `json:"transferBytes"`
	Links         []string `json:"links"`
	PrivacyLinks  int      `json:"privacyLinks"`
	SearchHits    int      `json:"searchHits"`
	HTTPResources []string `json:"httpResources"`
}

const snapshotJS = `() => {
	const html = document.documentElement.outerHTML;
	const links = Array.from(document.querySelectorAll('a[href]')).map(a => a.getAttribute('href'));
	const privacy = Array.from(document.querySelectorAll('a')).filter(a =>
		(a.getAttribute('href') || '').toLowerCase().includes('privacy') ||
		(a.textContent || '').toLowerCase().includes('privacy policy')).length;
	const search = document.querySelectorAll([
		'input[type="search"]', 'input[name*="search" i]', 'input[placeholder*="search" i]',
		'input[id*="search" i]', '[role="search"]', 'form[action*="search" i]', '.search-form', '.search-box'
	].join(', ')).length;
	const http = Array.from(new Set(html.match(/http:\/\/[^\s"'<>]+/g) || []));
	let transfer = 0;
	for (const e of performance.getEntriesByType('navigation').concat(performance.getEntriesByType('resource'))) {
		transfer += e.transferSize || 0;
	}
	return {
		url: location.href,
		htmlBytes: new Blob([html]).size,
		transferBytes: transfer,
		links: links,
		privacyLinks: privacy,
		searchHits: search,
		httpResources: http,
	};
}`

// BrowserProbe 基于无头浏览器的页面体验探测
type BrowserProbe struct {
	browser    *Browser
	httpClient *http.Client
}

func NewBrowserProbe(browser *Browser) *BrowserProbe {
	return &BrowserProbe{
		browser:    browser,
		httpClient: NewHTTPClient(5 * time.Second),
	}
}

func (p *BrowserProbe) Kind() Kind {
	return KindBrowser
}

func (p *BrowserProbe) Execute(ctx context.Context, target Target) (Result, error) {
	page, loadTime, release, err := p.browser.open(ctx, target.URL)
	if err != nil {
		return Result{}, err
	}
	defer release()

	var snapshot PageSnapshot
	if err := evalInto(page, snapshotJS, &snapshot); err != nil {
		return Result{}, err
	}

	if target.Check == CheckBrokenLinks {
		return p.brokenLinks(ctx, target.URL, snapshot.Links), nil
	}
	return AnalyzePage(target.Check, target.URL, snapshot, loadTime, p.browser.opts), nil
}

// AnalyzePage 根据页面快照计算各子项结果
func AnalyzePage(check, requestURL string, s PageSnapshot, loadTime time.Duration, opts BrowserOptions) Result {
	switch check {
	case CheckPageLoad:
		seconds := math.Round(loadTime.Seconds()*100) / 100
		return Result{
			ProblemDetected: loadTime > opts.SlowThreshold,
			Value:           float(seconds),
			Details:         fmt.Sprintf("Load time: %.2fs", loadTime.Seconds()),
		}
	case CheckPageWeight:
		bytes := s.TransferBytes
		if bytes <= 0 {
			bytes = s.HTMLBytes
		}
		mb := math.Round(bytes/(1024*1024)*100) / 100
		return Result{
			ProblemDetected: mb > opts.HeavyThreshold,
			Value:           float(mb),
			Details:         fmt.Sprintf("Page size: %.2f MB", mb),
		}
	case CheckMixedContent:
		if !strings.HasPrefix(strings.ToLower(requestURL), "https://") {
			return Result{Value: float(0), Details: "Site uses HTTP (not applicable)"}
		}
		details := fmt.Sprintf("HTTP resources on HTTPS page: %d", len(s.HTTPResources))
		if len(s.HTTPResources) > 0 {
			shown := s.HTTPResources
			if len(shown) > 5 {
				shown = shown[:5]
			}
			details += " - [" + strings.Join(shown, ", ") + "]"
		}
		return Result{
			ProblemDetected: len(s.HTTPResources) > 0,
			Value:           float(float64(len(s.HTTPResources))),
			Details:         details,
		}
	case CheckRedirect:
		redirected := !sameLocation(requestURL, s.URL)
		details := "No redirect"
		if redirected {
			details = "Redirected to: " + s.URL
		}
		return Result{ProblemDetected: redirected, Details: details}
	case CheckPrivacyPolicy:
		found := s.PrivacyLinks > 0
		return Result{
			ProblemDetected: !found,
			Value:           float(float64(s.PrivacyLinks)),
			Details:         fmt.Sprintf("Privacy policy links: %d", s.PrivacyLinks),
		}
	case CheckSearch:
		return Result{
			ProblemDetected: s.SearchHits == 0,
			Value:           float(float64(s.SearchHits)),
			Details:         fmt.Sprintf("Search elements matched: %d", s.SearchHits),
		}
	default:
		return Result{
			Value:   float(math.Round(loadTime.Seconds()*100) / 100),
			Details: "Page loaded successfully",
		}
	}
}

// sameLocation 忽略末尾斜杠和大小写差异
func sameLocation(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) &&
		strings.EqualFold(ua.Host, ub.Host) &&
		strings.TrimSuffix(ua.Path, "/") == strings.TrimSuffix(ub.Path, "/")
}

// InternalLinks 过滤出站内链接并补全为绝对地址
func InternalLinks(base string, hrefs []string, limit int) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var links []string
	for _, href := range hrefs {
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := baseURL.ResolveReference(ref)
		abs.Fragment = ""
		if !strings.EqualFold(abs.Host, baseURL.Host) {
			continue
		}
		s := abs.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		links = append(links, s)
		if len(links) >= limit {
			break
		}
	}
	return links
}

func (p *BrowserProbe) brokenLinks(ctx context.Context, base string, hrefs []string) Result {
	links := InternalLinks(base, hrefs, p.browser.opts.MaxLinksToCheck)
	if len(links) == 0 {
		return Result{Value: float(100), Details: "No internal links found"}
	}
	broken := 0
	for _, link := range links {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
		if err != nil {
			broken++
			continue
		}
		req.Header.Set("User-Agent", userAgent)
		resp, err := p.httpClient.Do(req)
		if err != nil {
			broken++
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 400 {
			broken++
		}
	}
	healthy := math.Round(float64(len(links)-broken)/float64(len(links))*10000) / 100
	return Result{
		ProblemDetected: broken > 0,
		Value:           float(healthy),
		Details:         fmt.Sprintf("Checked %d internal links, %d broken", len(links), broken),
	}
}

// AccessibilityProbe 无障碍探测
type AccessibilityProbe struct {
	browser *Browser
}

func NewAccessibilityProbe(browser *Browser) *AccessibilityProbe {
	return &AccessibilityProbe{browser: browser}
}

func (p *AccessibilityProbe) Kind() Kind {
	return KindAccessibility
}

// AxeSummary axe-core 扫描结果摘要
type AxeSummary struct {
	Violations int      `json:"violations"`
	Passes     int      `json:"passes"`
	Critical   []string `json:"critical"`
}

// Score 通过项占比
func (s AxeSummary) Score() float64 {
	total := s.Violations + s.Passes
	if total == 0 {
		return 0
	}
	return math.Round(float64(s.Passes)/float64(total)*1000) / 10
}

const axeJS = `async () => {
	const results = await axe.run();
	return {
		violations: results.violations.length,
		passes: results.passes.length,
		critical: results.violations
			.filter(v => v.impact === 'critical' || v.impact === 'serious')
			.map(v => v.id + ' (' + v.nodes.length + ' elements)'),
	};
}`

const imageAltJS = `() => {
	const imgs = Array.from(document.images);
	return { total: imgs.length, ok: imgs.filter(i => (i.getAttribute('alt') || '').trim() !== '').length };
}`

const formLabelsJS = `() => {
	const fields = Array.from(document.querySelectorAll('input:not([type=hidden]), select, textarea'));
	const labelled = fields.filter(f =>
		(f.id && document.querySelector('label[for="' + CSS.escape(f.id) + '"]')) ||
		f.closest('label') || f.getAttribute('aria-label') || f.getAttribute('aria-labelledby'));
	return { total: fields.length, ok: labelled.length };
}`

type coverage struct {
	Total int `json:"total"`
	OK    int `json:"ok"`
}

// Percent 没有元素时视为 100%
func (c coverage) Percent() float64 {
	if c.Total == 0 {
		return 100
	}
	return math.Round(float64(c.OK)/float64(c.Total)*10000) / 100
}

func (p *AccessibilityProbe) Execute(ctx context.Context, target Target) (Result, error) {
	page, _, release, err := p.browser.open(ctx, target.URL)
	if err != nil {
		return Result{}, err
	}
	defer release()

	switch target.Check {
	case CheckImageAlt, CheckFormLabels:
		js, name := imageAltJS, "images with alt text"
		if target.Check == CheckFormLabels {
			js, name = formLabelsJS, "form fields with labels"
		}
		var c coverage
		if err := evalInto(page, js, &c); err != nil {
			return Result{}, err
		}
		percent := c.Percent()
		return Result{
			ProblemDetected: c.OK < c.Total,
			Value:           float(percent),
			Details:         fmt.Sprintf("%d/%d %s (%.1f%%)", c.OK, c.Total, name, percent),
		}, nil
	default:
		if err := page.AddScriptTag(p.browser.opts.AxeURL, ""); err != nil {
			return Result{}, err
		}
		var summary AxeSummary
		if err := evalInto(page, axeJS, &summary); err != nil {
			return Result{}, err
		}
		return AnalyzeAxe(summary, p.browser.opts.MinWCAGScore), nil
	}
}

// AnalyzeAxe 得分低于阈值视为存在问题
func AnalyzeAxe(summary AxeSummary, minScore float64) Result {
	score := summary.Score()
	details := fmt.Sprintf("WCAG compliance: %.1f%% (%d violations, %d passes)", score, summary.Violations, summary.Passes)
	if len(summary.Critical) > 0 {
		shown := summary.Critical
		if len(shown) > 3 {
			shown = shown[:3]
		}
		details += " - Critical: [" + strings.Join(shown, ", ") + "]"
	}
	return Result{
		ProblemDetected: score < minScore,
		Value:           float(score),
		Details:         details,
	}
}
