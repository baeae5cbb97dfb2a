// Package throttle holds the two small timing helpers shared by the outbound
// API client and the config watcher: a trailing-edge debouncer and a
// per-key sliding-window rate limiter.
package throttle

import (
	"sync"
	"time"
)

// Debouncer 延迟执行 fn：每次 Call 都会取消尚未触发的调用并重新计时，
// 只有 delay 窗口内的最后一次 Call 会真正执行，并使用该次的参数。
type Debouncer[T any] struct {
	fn    func(T)
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending T
	armed   bool
	stopped bool
}

// Debounce 包装 fn，返回的 Debouncer 可被多个 goroutine 并发调用。
func Debounce[T any](fn func(T), delay time.Duration) *Debouncer[T] {
	return &Debouncer[T]{fn: fn, delay: delay}
}

// Call 记录参数并重新开始计时。
func (d *Debouncer[T]) Call(arg T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.pending = arg
	d.armed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Flush 立即执行挂起的调用（若有），用于退出前不丢失最后一次请求。
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	arg := d.pending
	d.armed = false
	d.mu.Unlock()

	d.fn(arg)
}

// Stop 取消挂起的调用，之后的 Call 不再生效。
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	// 被更新的 Call 替换掉的定时器可能已经在排队，此时直接放弃。
	if d.gen != gen || !d.armed {
		d.mu.Unlock()
		return
	}
	arg := d.pending
	d.armed = false
	d.timer = nil
	d.mu.Unlock()

	d.fn(arg)
}
