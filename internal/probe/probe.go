package probe

import (
	"context"
	"net/url"
	"sync"

	"github.com/dushixiang/kpimon/internal/kpierr"
)

// Kind 探测类型，集合是封闭的
type Kind string

const (
	KindAvailability  Kind = "availability"
	KindDNS           Kind = "dns"
	KindCertificate   Kind = "certificate"
	KindBrowser       Kind = "browser"
	KindAccessibility Kind = "accessibility"
)

// Kinds 所有已知探测类型
var Kinds = []Kind{KindAvailability, KindDNS, KindCertificate, KindBrowser, KindAccessibility}

// ParseKind 校验探测类型
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Target 一次探测的目标
type Target struct {
	AssetID string
	URL     string
	Check   string // 探测子项，由指标定义
}

// Host 目标主机名
func (t Target) Host() string {
	u, err := url.Parse(t.URL)
	if err != nil || u.Hostname() == "" {
		return t.URL
	}
	return u.Hostname()
}

// Result 探测原始结果
type Result struct {
	ProblemDetected bool
	Value           *float64
	Details         string
}

// Probe 探测器，实现必须支持并发调用并遵守 ctx 的截止时间
type Probe interface {
	Kind() Kind
	Execute(ctx context.Context, target Target) (Result, error)
}

// Func 函数适配器
type Func struct {
	K Kind
	F func(ctx context.Context, target Target) (Result, error)
}

func (f Func) Kind() Kind {
	return f.K
}

func (f Func) Execute(ctx context.Context, target Target) (Result, error) {
	return f.F(ctx, target)
}

// Registry 探测器注册表
type Registry struct {
	mu     sync.RWMutex
	probes map[Kind]Probe
}

func NewRegistry(probes ...Probe) *Registry {
	r := &Registry{probes: make(map[Kind]Probe, len(probes))}
	for _, p := range probes {
		r.Register(p)
	}
	return r
}

// Register 注册或替换探测器
func (r *Registry) Register(p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[p.Kind()] = p
}

// Get 获取探测器
func (r *Registry) Get(kind Kind) (Probe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probes[kind]
	if !ok {
		return nil, kpierr.Wrap(kpierr.ErrUnknownProbeKind, &UnknownKindError{Kind: string(kind)})
	}
	return p, nil
}

// Execute 执行探测，失败统一归类为 ProbeTimeout / ProbeTransportError
func (r *Registry) Execute(ctx context.Context, kind Kind, target Target) (Result, error) {
	p, err := r.Get(kind)
	if err != nil {
		return Result{}, err
	}
	result, err := p.Execute(ctx, target)
	if err != nil {
		return Result{}, kpierr.Probe(err)
	}
	return result, nil
}

type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return "unknown probe kind: " + e.Kind
}

func float(v float64) *float64 {
	return &v
}
