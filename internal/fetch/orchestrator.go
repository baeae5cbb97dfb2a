// Package fetch wraps remote metadata calls with the response cache:
// serve fresh entries, populate on miss or forced refresh, and fall back to
// whatever is cached (expired or not) when the upstream call fails.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/cinehub/cinehub/internal/cache"
	"github.com/cinehub/cinehub/internal/logging"
)

// RemoteFunc 执行一次上游请求并返回 JSON 正文。
type RemoteFunc func(ctx context.Context) (json.RawMessage, error)

// Source 标记结果来自何处。
type Source string

const (
	SourceFresh  Source = "fresh"
	SourceRemote Source = "remote"
	SourceStale  Source = "stale"
)

// Options 控制单次 Fetch 的缓存行为。
type Options struct {
	// TTL 写入缓存时使用的有效期，cache.NoExpiry 表示永不过期。
	TTL time.Duration
	// ForceRefresh 跳过新鲜度检查，总是回源。
	ForceRefresh bool
	// Validate 为空时使用 ValidateJSON。
	Validate Validator
}

// Result 是 Fetch 的返回值。Source 为 SourceStale 时 UpstreamErr 记录了导致兜底的上游错误。
type Result struct {
	Key         string
	Payload     json.RawMessage
	Source      Source
	CreatedAt   time.Time
	UpstreamErr error
}

// Stale 表示结果是上游失败后的过期兜底数据。
func (r *Result) Stale() bool {
	return r != nil && r.Source == SourceStale
}

// Orchestrator 负责 orchestrate “缓存命中 → 回源 → 写缓存 / 失败兜底” 的全流程。
type Orchestrator struct {
	store  cache.Store
	logger *logrus.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewOrchestrator 使用注入的存储与日志构建 Orchestrator，logger 可为空。
func NewOrchestrator(store cache.Store, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Fetch 返回 key 对应的数据。只有在上游失败且没有任何缓存时才返回 *UpstreamError。
func (o *Orchestrator) Fetch(ctx context.Context, key string, remote RemoteFunc, opts Options) (*Result, error) {
	if key == "" {
		return nil, errors.New("cache key required")
	}
	if remote == nil {
		return nil, errors.New("remote call required")
	}

	if !opts.ForceRefresh {
		if res, ok := o.lookupFresh(ctx, key); ok {
			return res, nil
		}
		// 同一 key 的并发 miss 只回源一次；失败后的兜底读取由每个调用方用自己的 ctx 完成。
		led := false
		ch := o.group.DoChan(key, func() (interface{}, error) {
			led = true
			return o.populate(ctx, key, remote, opts)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case shared := <-ch:
			if shared.Err == nil {
				return shared.Val.(*Result), nil
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if led || !isContextErr(shared.Err) {
				return o.fallback(ctx, key, shared.Err)
			}
			// 发起回源的调用方已取消，本调用方仍存活，用自己的 ctx 重试一次。
		}
	}

	res, err := o.populate(ctx, key, remote, opts)
	if err != nil {
		return o.fallback(ctx, key, err)
	}
	return res, nil
}

func (o *Orchestrator) lookupFresh(ctx context.Context, key string) (*Result, bool) {
	entry, err := o.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			o.logger.WithError(err).WithFields(logging.CacheFields("fetch", key, false)).Warn("cache_get_failed")
		}
		return nil, false
	}
	if entry.Expired(o.now()) {
		o.logger.WithFields(logging.CacheFields("fetch", key, false)).Debug("cache_expired")
		return nil, false
	}
	o.logger.WithFields(logging.CacheFields("fetch", key, true)).Debug("cache_hit")
	return &Result{
		Key:       key,
		Payload:   entry.Payload,
		Source:    SourceFresh,
		CreatedAt: entry.CreatedAt,
	}, true
}

// populate 回源、校验并写缓存，只返回上游或校验错误，不做兜底。
func (o *Orchestrator) populate(ctx context.Context, key string, remote RemoteFunc, opts Options) (*Result, error) {
	started := o.now()
	payload, err := o.callRemote(ctx, remote, opts.Validate)
	if err != nil {
		return nil, err
	}

	if setErr := o.store.Set(ctx, key, payload, opts.TTL); setErr != nil {
		// 写缓存失败不影响本次响应。
		o.logger.WithError(setErr).WithFields(logging.CacheFields("fetch", key, false)).Warn("cache_write_failed")
	}

	fields := logging.CacheFields("fetch", key, false)
	fields["force_refresh"] = opts.ForceRefresh
	fields["elapsed_ms"] = o.now().Sub(started).Milliseconds()
	o.logger.WithFields(fields).Info("cache_populated")

	return &Result{
		Key:       key,
		Payload:   payload,
		Source:    SourceRemote,
		CreatedAt: o.now().UTC(),
	}, nil
}

func (o *Orchestrator) callRemote(ctx context.Context, remote RemoteFunc, validate Validator) (json.RawMessage, error) {
	payload, err := remote(ctx)
	if err != nil {
		return nil, err
	}
	if validate == nil {
		validate = ValidateJSON
	}
	if err := validate(payload); err != nil {
		if !errors.Is(err, ErrInvalidPayload) {
			err = fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return nil, err
	}
	return payload, nil
}

// fallback 在上游失败后忽略过期时间读取缓存（stale-if-error）。
func (o *Orchestrator) fallback(ctx context.Context, key string, upstreamErr error) (*Result, error) {
	entry, err := o.store.Get(ctx, key)
	if err != nil {
		o.logger.WithError(upstreamErr).WithFields(logging.CacheFields("fetch", key, false)).Error("upstream_failed_no_cache")
		return nil, &UpstreamError{Key: key, Err: upstreamErr}
	}

	fields := logging.CacheFields("fetch", key, true)
	fields["cached_at"] = entry.CreatedAt
	o.logger.WithError(upstreamErr).WithFields(fields).Warn("cache_stale_fallback")

	return &Result{
		Key:         key,
		Payload:     entry.Payload,
		Source:      SourceStale,
		CreatedAt:   entry.CreatedAt,
		UpstreamErr: upstreamErr,
	}, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
