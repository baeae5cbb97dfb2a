// Package tmdb issues outbound requests against the movie metadata API and
// returns raw JSON bodies for the fetch layer to cache.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cinehub/cinehub/internal/fetch"
	"github.com/cinehub/cinehub/internal/logging"
	"github.com/cinehub/cinehub/internal/throttle"
)

// DefaultBaseURL 为官方 v3 API 地址。
const DefaultBaseURL = "https://api.themoviedb.org/3"

// maxBodyBytes 限制单个响应体大小，防止异常上游撑爆内存。
const maxBodyBytes = 8 << 20

// ErrRateLimited 表示本地限流器拒绝了本次请求，调用方应回退到缓存。
var ErrRateLimited = errors.New("tmdb: outbound rate limit exceeded")

// StatusError 描述上游返回的非 2xx 响应。
type StatusError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tmdb %s: status %d: %s", e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("tmdb %s: status %d", e.Path, e.StatusCode)
}

// Options 构建 Client 所需的参数。
type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Language   string
	Limiter    *throttle.Limiter
	Logger     *logrus.Logger
}

// Client 对上游 API 发起 GET 请求，统一附加 api_key/language 并执行出站限流。
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	language string
	limiter  *throttle.Limiter
	logger   *logrus.Logger
}

// NewClient 校验参数并返回 Client。
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("tmdb api key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid tmdb base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		http:     httpClient,
		baseURL:  base,
		apiKey:   opts.APIKey,
		language: opts.Language,
		limiter:  opts.Limiter,
		logger:   logger,
	}, nil
}

// GetJSON 请求 path 并返回原始 JSON 正文。params 中未设置 language 时使用客户端默认语言。
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	limitKey := endpointKey(path)
	if !c.limiter.Allow(limitKey) {
		c.logger.WithFields(logrus.Fields{
			"action":    "tmdb_request",
			"endpoint":  limitKey,
			"remaining": c.limiter.Remaining(limitKey),
		}).Warn("tmdb_rate_limited")
		return nil, ErrRateLimited
	}

	target := c.buildURL(path, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build tmdb request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logResult(path, 0, started, err)
		return nil, fmt.Errorf("tmdb %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.logResult(path, resp.StatusCode, started, err)
		return nil, fmt.Errorf("read tmdb response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Path: path, StatusCode: resp.StatusCode, Message: statusMessage(body)}
		c.logResult(path, resp.StatusCode, started, statusErr)
		return nil, statusErr
	}

	c.logResult(path, resp.StatusCode, started, nil)
	return json.RawMessage(body), nil
}

// Remote 将 path/params 绑定为 fetch.RemoteFunc，供 Orchestrator 调用。
func (c *Client) Remote(path string, params url.Values) fetch.RemoteFunc {
	cloned := cloneValues(params)
	return func(ctx context.Context) (json.RawMessage, error) {
		return c.GetJSON(ctx, path, cloned)
	}
}

func (c *Client) buildURL(path string, params url.Values) string {
	query := cloneValues(params)
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	if c.language != "" && query.Get("language") == "" {
		query.Set("language", c.language)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path + "?" + query.Encode()
}

func (c *Client) logResult(path string, status int, started time.Time, err error) {
	fields := logrus.Fields{
		"action":     "tmdb_request",
		"path":       path,
		"status":     status,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("tmdb_request_failed")
		return
	}
	c.logger.WithFields(fields).Debug("tmdb_request_completed")
}

// endpointKey 将 /movie/123 之类的路径归并为同一限流桶。
func endpointKey(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg != "" && strings.Trim(seg, "0123456789") == "" {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

// statusMessage 提取上游错误体中的 status_message 字段。
func statusMessage(body []byte) string {
	var payload struct {
		StatusMessage string `json:"status_message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.StatusMessage
}

func cloneValues(in url.Values) url.Values {
	if in == nil {
		return nil
	}
	out := make(url.Values, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
