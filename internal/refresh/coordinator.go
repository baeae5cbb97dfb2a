// Package refresh force-refreshes a set of catalog keys in parallel through a
// bounded worker pool and reports per-key outcomes.
package refresh

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cinehub/cinehub/internal/fetch"
	"github.com/cinehub/cinehub/internal/logging"
)

// DefaultConcurrency 是未配置时同时进行的上游刷新数。
const DefaultConcurrency = 4

// Target 描述一个需要强制刷新的目录键。
type Target struct {
	Key      string
	Remote   fetch.RemoteFunc
	TTL      time.Duration
	Validate fetch.Validator
}

// Report 汇总一次批量刷新的结果。Failed 中的键保留了刷新前的缓存内容。
type Report struct {
	Succeeded []string
	Failed    map[string]error
	Duration  time.Duration
}

// OK 表示全部目录刷新成功。
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// FailedKeys 返回按字母排序的失败键，便于日志与响应输出稳定。
func (r Report) FailedKeys() []string {
	keys := make([]string, 0, len(r.Failed))
	for key := range r.Failed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Fetcher 是 Coordinator 依赖的最小能力，*fetch.Orchestrator 满足该接口。
type Fetcher interface {
	Fetch(ctx context.Context, key string, remote fetch.RemoteFunc, opts fetch.Options) (*fetch.Result, error)
}

// Coordinator 以固定并发度强制刷新全部目录，单个目录失败不影响其它目录。
type Coordinator struct {
	fetcher     Fetcher
	logger      *logrus.Logger
	concurrency int
}

// NewCoordinator 构建 Coordinator；concurrency <= 0 时使用 DefaultConcurrency。
func NewCoordinator(fetcher Fetcher, logger *logrus.Logger, concurrency int) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Coordinator{
		fetcher:     fetcher,
		logger:      logger,
		concurrency: concurrency,
	}
}

// RefreshAll 对每个 Target 执行 ForceRefresh 的 Fetch。上游失败后以旧缓存兜底的目录同样记为失败。
func (c *Coordinator) RefreshAll(ctx context.Context, targets []Target) Report {
	started := time.Now()
	report := Report{Failed: make(map[string]error)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.concurrency)

	for _, target := range targets {
		target := target
		g.Go(func() error {
			err := c.refreshOne(ctx, target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[target.Key] = err
			} else {
				report.Succeeded = append(report.Succeeded, target.Key)
			}
			// 不向 errgroup 返回错误，避免影响其它目录。
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Succeeded)
	report.Duration = time.Since(started)

	fields := logrus.Fields{
		"action":      "refresh_all",
		"targets":     len(targets),
		"succeeded":   len(report.Succeeded),
		"failed":      report.FailedKeys(),
		"elapsed_ms":  report.Duration.Milliseconds(),
		"concurrency": c.concurrency,
	}
	if report.OK() {
		c.logger.WithFields(fields).Info("refresh_complete")
	} else {
		c.logger.WithFields(fields).Warn("refresh_partial")
	}
	return report
}

func (c *Coordinator) refreshOne(ctx context.Context, target Target) error {
	if target.Key == "" {
		return errors.New("refresh target key required")
	}
	res, err := c.fetcher.Fetch(ctx, target.Key, target.Remote, fetch.Options{
		TTL:          target.TTL,
		ForceRefresh: true,
		Validate:     target.Validate,
	})
	if err != nil {
		return err
	}
	if res.Stale() {
		return res.UpstreamErr
	}
	return nil
}
