package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunToken 持有期间同一档位不会再启动新的周期
type RunToken struct {
	Tier     string
	Takeover bool // 获取时抢占了一个已过期的令牌

	deadline atomic.Int64 // UnixNano
}

// Deadline 令牌的截止时间，周期运行期间会被续期
func (t *RunToken) Deadline() time.Time {
	return time.Unix(0, t.deadline.Load())
}

type tierLock struct {
	token  atomic.Pointer[RunToken]
	missed atomic.Int64 // 运行期间第一次被合并掉的触发时间（毫秒），0 表示没有
}

// RunLock 每个档位一个运行令牌，通过 CAS 获取，超过截止时间的令牌可以被抢占
type RunLock struct {
	mu    sync.Mutex
	tiers map[string]*tierLock
	now   func() time.Time
}

func NewRunLock() *RunLock {
	return &RunLock{
		tiers: make(map[string]*tierLock),
		now:   time.Now,
	}
}

func (l *RunLock) tier(name string) *tierLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tiers[name]
	if !ok {
		t = &tierLock{}
		l.tiers[name] = t
	}
	return t
}

// TryAcquire 获取运行令牌，失败时记录一次被合并的触发
func (l *RunLock) TryAcquire(tier string, ttl time.Duration) (*RunToken, bool) {
	t := l.tier(tier)
	now := l.now()
	current := t.token.Load()
	if current != nil && now.Before(current.Deadline()) {
		t.missed.CompareAndSwap(0, now.UnixMilli())
		return nil, false
	}

	next := &RunToken{Tier: tier, Takeover: current != nil}
	next.deadline.Store(now.Add(ttl).UnixNano())
	if !t.token.CompareAndSwap(current, next) {
		t.missed.CompareAndSwap(0, now.UnixMilli())
		return nil, false
	}
	return next, true
}

// Refresh 续期仍然持有的令牌，令牌已被抢占时返回 false
func (l *RunLock) Refresh(token *RunToken, ttl time.Duration) bool {
	t := l.tier(token.Tier)
	if t.token.Load() != token {
		return false
	}
	token.deadline.Store(l.now().Add(ttl).UnixNano())
	return t.token.Load() == token
}

// Release 释放令牌，返回运行期间被合并的触发时间
// 令牌已被抢占时不做任何修改
func (l *RunLock) Release(token *RunToken) (time.Time, bool) {
	t := l.tier(token.Tier)
	if !t.token.CompareAndSwap(token, nil) {
		return time.Time{}, false
	}
	missed := t.missed.Swap(0)
	if missed == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(missed), true
}

// Running 档位是否正在运行
func (l *RunLock) Running(tier string) bool {
	current := l.tier(tier).token.Load()
	return current != nil && l.now().Before(current.Deadline())
}
