package throttle

import (
	"sync"
	"time"
)

// Limiter 按 key 维护固定窗口内的调用时间戳，超过上限的调用直接拒绝而不排队。
// 过期时间戳在每次 Allow 时惰性清理。
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls map[string][]time.Time
}

// NewLimiter 创建滑动窗口限流器；max <= 0 表示不限流。
func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
		calls:  make(map[string][]time.Time),
	}
}

// Allow 判断 key 当前是否允许再发起一次调用，允许时同时记录本次调用。
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.max <= 0 || l.window <= 0 {
		return true
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.calls[key]
	kept := recent[:0]
	for _, ts := range recent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.max {
		l.calls[key] = kept
		return false
	}

	l.calls[key] = append(kept, now)
	return true
}

// Remaining 返回 key 在当前窗口内剩余的调用次数，仅用于日志与诊断。
func (l *Limiter) Remaining(key string) int {
	if l == nil || l.max <= 0 || l.window <= 0 {
		return -1
	}
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, ts := range l.calls[key] {
		if ts.After(cutoff) {
			count++
		}
	}
	if count >= l.max {
		return 0
	}
	return l.max - count
}
