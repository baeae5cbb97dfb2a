package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cinehub/cinehub/internal/config"
	"github.com/cinehub/cinehub/internal/fetch"
	"github.com/cinehub/cinehub/internal/logging"
	"github.com/cinehub/cinehub/internal/refresh"
)

var (
	// ErrUnknownCatalog 表示请求的目录键未注册。
	ErrUnknownCatalog = errors.New("catalog not registered")
	// ErrUnknownGenre 表示不支持的类型名。
	ErrUnknownGenre = errors.New("unknown genre")
	// ErrEmptyQuery 表示搜索词为空。
	ErrEmptyQuery = errors.New("search query required")
	// ErrInvalidMovieID 表示影片 ID 非正整数。
	ErrInvalidMovieID = errors.New("movie id must be a positive integer")
)

// Upstream 将上游路径与参数绑定为可执行的 RemoteFunc，*tmdb.Client 满足该接口。
type Upstream interface {
	Remote(path string, params url.Values) fetch.RemoteFunc
}

// Options 构建 Service 所需的依赖。
type Options struct {
	Registry    *Registry
	Fetcher     refresh.Fetcher
	Upstream    Upstream
	Coordinator *refresh.Coordinator
	// DefaultTTL 用于搜索、详情等未注册为目录的临时键。0 表示永不过期。
	DefaultTTL time.Duration
	Logger     *logrus.Logger
}

// Service 对外提供具名的目录读取函数，全部经由 Fetcher 走缓存。
type Service struct {
	registry    *Registry
	fetcher     refresh.Fetcher
	upstream    Upstream
	coordinator *refresh.Coordinator
	defaultTTL  atomic.Int64
	logger      *logrus.Logger
}

// NewService 校验依赖并返回 Service。
func NewService(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, errors.New("catalog registry is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("upstream is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	coordinator := opts.Coordinator
	if coordinator == nil {
		coordinator = refresh.NewCoordinator(opts.Fetcher, logger, refresh.DefaultConcurrency)
	}
	svc := &Service{
		registry:    opts.Registry,
		fetcher:     opts.Fetcher,
		upstream:    opts.Upstream,
		coordinator: coordinator,
		logger:      logger,
	}
	svc.defaultTTL.Store(int64(opts.DefaultTTL))
	return svc, nil
}

// Registry 返回当前使用的目录注册表。
func (s *Service) Registry() *Registry {
	return s.registry
}

// Apply 用新配置替换目录集合与临时键 TTL，替换失败时保持旧状态。
func (s *Service) Apply(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := s.registry.Replace(FromConfig(cfg)); err != nil {
		return err
	}
	s.defaultTTL.Store(int64(cfg.EffectiveCacheTTL(config.CatalogConfig{})))
	s.logger.WithFields(logrus.Fields{
		"action":   "catalog_apply",
		"catalogs": s.registry.Keys(),
	}).Info("catalogs_replaced")
	return nil
}

// Get 读取已注册目录。
func (s *Service) Get(ctx context.Context, key string) (*fetch.Result, error) {
	def, ok := s.registry.Resolve(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCatalog, key)
	}
	return s.fetch(ctx, def)
}

// Trending 返回本周热门。
func (s *Service) Trending(ctx context.Context) (*fetch.Result, error) {
	return s.builtin(ctx, KeyTrending)
}

// NetflixOriginals 返回 Netflix 原创内容。
func (s *Service) NetflixOriginals(ctx context.Context) (*fetch.Result, error) {
	return s.builtin(ctx, KeyNetflixOriginals)
}

// TopRated 返回评分最高的影片。
func (s *Service) TopRated(ctx context.Context) (*fetch.Result, error) {
	return s.builtin(ctx, KeyTopRated)
}

// PopularPeople 返回热门影人第一页。
func (s *Service) PopularPeople(ctx context.Context) (*fetch.Result, error) {
	return s.builtin(ctx, KeyPopularPeople)
}

// ByGenre 返回指定类型的发现列表，genre 取值见 Genres()。
func (s *Service) ByGenre(ctx context.Context, genre string) (*fetch.Result, error) {
	key, ok := genreKeys[strings.ToLower(strings.TrimSpace(genre))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGenre, genre)
	}
	return s.builtin(ctx, key)
}

// Search 按片名搜索，结果缓存在 search_<query> 键下。
func (s *Service) Search(ctx context.Context, query string) (*fetch.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	return s.fetch(ctx, Definition{
		Key:      SearchKey(query),
		Path:     "/search/movie",
		Params:   map[string]string{"query": query},
		TTL:      s.adhocTTL(),
		Validate: "list",
	})
}

// MovieDetails 返回单部影片详情，缓存在 movie_details_<id> 键下。
func (s *Service) MovieDetails(ctx context.Context, id int) (*fetch.Result, error) {
	if id <= 0 {
		return nil, ErrInvalidMovieID
	}
	return s.fetch(ctx, Definition{
		Key:      DetailsKey(id),
		Path:     "/movie/" + strconv.Itoa(id),
		TTL:      s.adhocTTL(),
		Validate: "object",
	})
}

// Targets 将全部已注册目录转换为批量刷新目标。
func (s *Service) Targets() []refresh.Target {
	defs := s.registry.List()
	targets := make([]refresh.Target, 0, len(defs))
	for _, def := range defs {
		validate, _ := fetch.ValidatorByName(def.Validate)
		targets = append(targets, refresh.Target{
			Key:      def.Key,
			Remote:   s.upstream.Remote(def.Path, def.Query()),
			TTL:      def.TTL,
			Validate: validate,
		})
	}
	return targets
}

// RefreshAll 强制刷新全部已注册目录。
func (s *Service) RefreshAll(ctx context.Context) refresh.Report {
	return s.coordinator.RefreshAll(ctx, s.Targets())
}

// builtin 优先使用注册表中的定义；配置替换掉内置目录时回退到内置定义与临时 TTL。
func (s *Service) builtin(ctx context.Context, key string) (*fetch.Result, error) {
	if def, ok := s.registry.Resolve(key); ok {
		return s.fetch(ctx, def)
	}
	for _, cat := range DefaultCatalogs() {
		if cat.Key == key {
			return s.fetch(ctx, Definition{
				Key:      cat.Key,
				Path:     cat.Path,
				Params:   cat.Params,
				TTL:      s.adhocTTL(),
				Validate: cat.Validate,
			})
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCatalog, key)
}

func (s *Service) fetch(ctx context.Context, def Definition) (*fetch.Result, error) {
	validate, ok := fetch.ValidatorByName(def.Validate)
	if !ok {
		return nil, fmt.Errorf("catalog %s: unknown validator %q", def.Key, def.Validate)
	}
	return s.fetcher.Fetch(ctx, def.Key, s.upstream.Remote(def.Path, def.Query()), fetch.Options{
		TTL:      def.TTL,
		Validate: validate,
	})
}

func (s *Service) adhocTTL() time.Duration {
	return time.Duration(s.defaultTTL.Load())
}

// SearchKey 将搜索词归一化为缓存键：连续空白替换为下划线并转小写。
func SearchKey(query string) string {
	return "search_" + strings.ToLower(strings.Join(strings.Fields(query), "_"))
}

// DetailsKey 返回影片详情的缓存键。
func DetailsKey(id int) string {
	return "movie_details_" + strconv.Itoa(id)
}
